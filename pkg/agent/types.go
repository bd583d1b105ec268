package agent

import (
	"fmt"

	"github.com/rizal/riko/pkg/tool"
)

// State identifies where the loop is in its lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Role tags a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind identifies the content variant of a Block.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Block is one content element inside a history turn.
type Block struct {
	Kind BlockKind `json:"kind"`

	// Text carries the text of text blocks and the rendered text of
	// tool_result blocks.
	Text string `json:"text,omitempty"`

	// Image is a base64 PNG payload on image and tool_result blocks.
	Image string `json:"image,omitempty"`

	// Call is set on tool_use blocks.
	Call *tool.Call `json:"call,omitempty"`

	// ResultFor correlates a tool_result block to the tool_use ID it
	// answers.
	ResultFor string `json:"result_for,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// CacheControl marks this block as a prompt-cache boundary for the
	// model client.
	CacheControl bool `json:"cache_control,omitempty"`
}

// Turn is one ordered record in the conversation history: a model
// message or a batch of tool results.
type Turn struct {
	Role   Role    `json:"role"`
	Blocks []Block `json:"blocks"`
}

// Text concatenates the turn's text blocks.
func (t Turn) Text() string {
	out := ""
	for _, b := range t.Blocks {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// TokenUsage tracks token consumption across model calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from one exchange.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Exchange is one model turn: the assistant message to append to
// history, the tool calls it requested in order, and token usage.
type Exchange struct {
	Turn  Turn
	Calls []tool.Call
	Usage TokenUsage
}

// Result reports the outcome of one run.
type Result struct {
	State     State      `json:"state"`
	FinalText string     `json:"final_text,omitempty"`
	Turns     []Turn     `json:"turns"`
	Usage     TokenUsage `json:"usage"`
}

// ClientError classifies a transport or provider fault from the model
// client. It is fatal: this core implements no retry semantics.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("model client: %v", e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}
