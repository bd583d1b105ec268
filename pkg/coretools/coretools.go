package coretools

import (
	"fmt"
	"time"

	"github.com/rizal/riko/pkg/shell"
	"github.com/rizal/riko/pkg/tool"
)

// Options configures core tool registration.
type Options struct {
	Session        *shell.Session
	CommandTimeout time.Duration
	Display        string
}

// RegisterCoreTools registers the built-in tool variants with the registry.
func RegisterCoreTools(registry *tool.Registry, opts Options) error {
	if registry == nil {
		return fmt.Errorf("tool registry is required")
	}
	if opts.Session == nil {
		return fmt.Errorf("shell session is required")
	}

	tools := []tool.Tool{
		NewBashTool(opts.Session, opts.CommandTimeout),
		NewEditTool(),
		NewComputerTool(opts.Display),
	}

	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name(), err)
		}
	}
	return nil
}
