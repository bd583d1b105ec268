package tool

import "fmt"

// ExecutionError represents an unexpected tool or session fault.
//
// Unlike a Result with Failure set, an ExecutionError is not shown to
// the model as a normal tool result. The loop surfaces it as a system
// note and continues, unless Fatal is set (for example the shell
// session cannot be restarted), in which case the run terminates.
type ExecutionError struct {
	Tool  string
	Fatal bool
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError wraps err as a recoverable execution error.
func NewExecutionError(tool string, err error) *ExecutionError {
	return &ExecutionError{Tool: tool, Err: err}
}

// NewFatalError wraps err as a non-recoverable execution error.
func NewFatalError(tool string, err error) *ExecutionError {
	return &ExecutionError{Tool: tool, Err: err, Fatal: true}
}
