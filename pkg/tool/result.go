package tool

import "errors"

// ErrCombineImages is returned when combining two results that both carry an image.
var ErrCombineImages = errors.New("cannot combine two tool results with images")

// Result represents the outcome of a single tool invocation.
//
// Output and Error carry the tool's text streams, Image carries a
// base64-encoded screenshot or similar payload, and System carries a
// contextual note surfaced to the model separately from the output.
// A Result with Failure set is an expected unsuccessful outcome (for
// example a non-zero exit code) and is still delivered to the model as
// a normal tool result. An all-empty Result is a valid no-op success.
//
// Results are treated as immutable once constructed.
type Result struct {
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Image   string `json:"image,omitempty"`
	System  string `json:"system,omitempty"`
	Failure bool   `json:"failure,omitempty"`
}

// NewFailure creates a Result marking an expected unsuccessful outcome.
func NewFailure(message string) Result {
	return Result{Error: message, Failure: true}
}

// IsEmpty reports whether the result carries no content at all.
func (r Result) IsEmpty() bool {
	return r.Output == "" && r.Error == "" && r.Image == "" && r.System == ""
}

// Combine merges two results in argument order: text fields are
// concatenated, the image is taken from whichever result has one.
// Combining two results that both carry an image is ambiguous and
// returns ErrCombineImages rather than silently dropping either.
func (r Result) Combine(other Result) (Result, error) {
	if r.Image != "" && other.Image != "" {
		return Result{}, ErrCombineImages
	}
	image := r.Image
	if image == "" {
		image = other.Image
	}
	return Result{
		Output:  concat(r.Output, other.Output),
		Error:   concat(r.Error, other.Error),
		Image:   image,
		System:  concat(r.System, other.System),
		Failure: r.Failure || other.Failure,
	}, nil
}

func concat(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + b
}
