package coretools

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/rizal/riko/pkg/tool"
)

const computerActionTimeout = 30 * time.Second

// ComputerTool performs screen and mouse actions against the host
// display by driving xdotool and scrot. Screenshots are returned as
// base64 image payloads on the result.
type ComputerTool struct {
	display string
}

// NewComputerTool creates the screen/mouse tool. An empty display
// falls back to ":1", matching the sandboxed desktop the runtime
// normally targets.
func NewComputerTool(display string) *ComputerTool {
	if display == "" {
		display = ":1"
	}
	return &ComputerTool{display: display}
}

func (t *ComputerTool) Name() string {
	return "computer"
}

func (t *ComputerTool) Description() string {
	return "Interact with the screen and mouse. Actions: screenshot captures the display, left_click/right_click/double_click click at the given coordinate, mouse_move moves the pointer, type enters text, key presses a key combination such as ctrl+s."
}

func (t *ComputerTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"screenshot", "left_click", "right_click", "double_click", "mouse_move", "type", "key"},
				"description": "The action to perform",
			},
			"coordinate": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer"},
				"description": "[x, y] pixel coordinate for click and move actions",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text for the type action or key combination for the key action",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ComputerTool) Invoke(ctx context.Context, params map[string]interface{}) (tool.Result, error) {
	action, _ := params["action"].(string)

	switch action {
	case "screenshot":
		return t.screenshot(ctx)
	case "left_click":
		return t.click(ctx, params, "1")
	case "right_click":
		return t.click(ctx, params, "3")
	case "double_click":
		return t.clickRepeat(ctx, params, "1", 2)
	case "mouse_move":
		x, y, ok := coordinate(params)
		if !ok {
			return tool.NewFailure("coordinate is required for mouse_move"), nil
		}
		return t.xdotool(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y))
	case "type":
		text, _ := params["text"].(string)
		if text == "" {
			return tool.NewFailure("text is required for the type action"), nil
		}
		return t.xdotool(ctx, "type", "--delay", "12", "--", text)
	case "key":
		text, _ := params["text"].(string)
		if text == "" {
			return tool.NewFailure("text is required for the key action"), nil
		}
		return t.xdotool(ctx, "key", "--", text)
	default:
		return tool.NewFailure(fmt.Sprintf("unknown computer action: %s", action)), nil
	}
}

func (t *ComputerTool) click(ctx context.Context, params map[string]interface{}, button string) (tool.Result, error) {
	return t.clickRepeat(ctx, params, button, 1)
}

func (t *ComputerTool) clickRepeat(ctx context.Context, params map[string]interface{}, button string, repeat int) (tool.Result, error) {
	args := []string{}
	if x, y, ok := coordinate(params); ok {
		args = append(args, "mousemove", strconv.Itoa(x), strconv.Itoa(y))
	}
	args = append(args, "click", "--repeat", strconv.Itoa(repeat), button)
	return t.xdotool(ctx, args...)
}

func (t *ComputerTool) screenshot(ctx context.Context) (tool.Result, error) {
	id, err := gonanoid.New()
	if err != nil {
		return tool.Result{}, tool.NewExecutionError(t.Name(), err)
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("riko-screen-%s.png", id))
	defer os.Remove(path)

	if result, err := t.run(ctx, "scrot", "-o", path); err != nil || result.Failure {
		return result, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tool.Result{}, tool.NewExecutionError(t.Name(), fmt.Errorf("screenshot file missing: %w", err))
	}

	return tool.Result{Image: base64.StdEncoding.EncodeToString(data)}, nil
}

func (t *ComputerTool) xdotool(ctx context.Context, args ...string) (tool.Result, error) {
	return t.run(ctx, "xdotool", args...)
}

// run executes one display utility invocation. These are one-shot
// commands, so they go through exec directly rather than the
// persistent shell session.
func (t *ComputerTool) run(ctx context.Context, name string, args ...string) (tool.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, computerActionTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+t.display)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return tool.Result{}, ctx.Err()
		}
		if _, ok := err.(*exec.ExitError); ok {
			return tool.Result{
				Output:  stdout.String(),
				Error:   stderr.String(),
				Failure: true,
			}, nil
		}
		// Utility missing or not executable: the environment cannot
		// serve this tool at all.
		return tool.Result{}, tool.NewExecutionError(t.Name(), err)
	}

	return tool.Result{Output: stdout.String(), Error: stderr.String()}, nil
}

func coordinate(params map[string]interface{}) (int, int, bool) {
	raw, ok := params["coordinate"].([]interface{})
	if !ok || len(raw) != 2 {
		return 0, 0, false
	}
	x, okX := asInt(raw[0])
	y, okY := asInt(raw[1])
	if !okX || !okY {
		return 0, 0, false
	}
	return x, y, true
}
