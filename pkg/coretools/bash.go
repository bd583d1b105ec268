package coretools

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rizal/riko/pkg/shell"
	"github.com/rizal/riko/pkg/tool"
)

// BashTool runs commands in a persistent bash session. The session is
// reused across calls so environment variables, working directory and
// background processes survive between commands.
type BashTool struct {
	session *shell.Session
	timeout time.Duration
}

// NewBashTool creates a bash tool backed by the given session. A zero
// timeout falls back to the session's default.
func NewBashTool(session *shell.Session, timeout time.Duration) *BashTool {
	return &BashTool{session: session, timeout: timeout}
}

func (t *BashTool) Name() string {
	return "bash"
}

func (t *BashTool) Description() string {
	return "Run a command in a persistent bash session. State such as environment variables and the working directory survives between calls. Set restart to true to discard the session and start fresh."
}

func (t *BashTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The bash command to execute",
			},
			"restart": map[string]interface{}{
				"type":        "boolean",
				"description": "Restart the bash session instead of running a command",
			},
		},
	}
}

// Invoke executes the requested command, or restarts the session when
// the restart argument is set. Session faults are reported as
// execution errors; only a failure to spawn a fresh process is fatal.
func (t *BashTool) Invoke(ctx context.Context, params map[string]interface{}) (tool.Result, error) {
	if restart, _ := params["restart"].(bool); restart {
		if err := t.session.Restart(ctx); err != nil {
			return tool.Result{}, tool.NewFatalError(t.Name(), err)
		}
		return tool.Result{System: "bash session has been restarted"}, nil
	}

	command, _ := params["command"].(string)
	if strings.TrimSpace(command) == "" {
		return tool.NewFailure("no command provided"), nil
	}

	result, err := t.session.Run(ctx, command, t.timeout)
	if err != nil {
		return tool.Result{}, t.classify(ctx, err)
	}
	return result, nil
}

func (t *BashTool) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var startErr *shell.StartError
	if errors.As(err, &startErr) {
		// No shell process can be spawned at all; nothing to adapt to.
		return tool.NewFatalError(t.Name(), err)
	}

	var timeoutErr *shell.TimeoutError
	if errors.As(err, &timeoutErr) {
		// The command may still be holding the session; the run cannot
		// proceed reliably past it.
		return tool.NewFatalError(t.Name(), err)
	}

	return tool.NewExecutionError(t.Name(), err)
}
