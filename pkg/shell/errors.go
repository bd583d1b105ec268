package shell

import (
	"errors"
	"fmt"
	"time"
)

// ErrIndeterminate is returned when a Run is attempted on a session
// left in an unknown state by a previous timeout or cancellation. The
// prior command may still be executing, so its output could corrupt
// sentinel matching for the next one; the session must be restarted
// before it can be reused.
var ErrIndeterminate = errors.New("shell session is in an indeterminate state and must be restarted")

// StartError is returned when the persistent shell process cannot be spawned.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start shell session: %v", e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a command does not produce its
// completion sentinel within the allowed time.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command has not returned in %s and the session must be restarted", e.After)
}

// ExitedError is returned when the shell process terminates while a
// command was in flight, for example because the command itself ran exit.
type ExitedError struct {
	Err error
}

func (e *ExitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shell session exited unexpectedly: %v", e.Err)
	}
	return "shell session exited unexpectedly"
}

func (e *ExitedError) Unwrap() error {
	return e.Err
}
