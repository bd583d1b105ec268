// Package coretools provides the built-in tool variants the agent loop
// dispatches to: persistent-shell command execution, file editing, and
// screen/mouse actions.
package coretools
