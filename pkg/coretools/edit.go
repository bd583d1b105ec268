package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rizal/riko/pkg/tool"
)

const maxViewBytes = 64 * 1024

// EditTool performs file operations: view, create, string replacement
// and line insertion. All expected failure modes (missing file,
// ambiguous match) are reported as failure results the model can react
// to.
type EditTool struct{}

// NewEditTool creates the file editing tool.
func NewEditTool() *EditTool {
	return &EditTool{}
}

func (t *EditTool) Name() string {
	return "edit"
}

func (t *EditTool) Description() string {
	return "View, create and edit files. Commands: view shows a file with line numbers, create writes a new file, str_replace replaces a unique occurrence of old_str with new_str, insert adds text after the given line number."
}

func (t *EditTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"view", "create", "str_replace", "insert"},
				"description": "The operation to perform",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path to the file",
			},
			"file_text": map[string]interface{}{
				"type":        "string",
				"description": "Content for the create command",
			},
			"old_str": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace for str_replace",
			},
			"new_str": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text for str_replace or insert",
			},
			"insert_line": map[string]interface{}{
				"type":        "integer",
				"description": "Line number after which to insert for the insert command",
			},
		},
		"required": []string{"command", "path"},
	}
}

func (t *EditTool) Invoke(ctx context.Context, params map[string]interface{}) (tool.Result, error) {
	command, _ := params["command"].(string)
	path, _ := params["path"].(string)

	if !filepath.IsAbs(path) {
		return tool.NewFailure(fmt.Sprintf("path must be absolute: %s", path)), nil
	}

	switch command {
	case "view":
		return t.view(path), nil
	case "create":
		text, _ := params["file_text"].(string)
		return t.create(path, text), nil
	case "str_replace":
		oldStr, _ := params["old_str"].(string)
		newStr, _ := params["new_str"].(string)
		return t.strReplace(path, oldStr, newStr), nil
	case "insert":
		newStr, _ := params["new_str"].(string)
		line, ok := asInt(params["insert_line"])
		if !ok {
			return tool.NewFailure("insert_line is required for the insert command"), nil
		}
		return t.insert(path, line, newStr), nil
	default:
		return tool.NewFailure(fmt.Sprintf("unknown edit command: %s", command)), nil
	}
}

func (t *EditTool) view(path string) tool.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return tool.NewFailure(fmt.Sprintf("cannot read %s: %v", path, err))
	}

	truncated := false
	if len(data) > maxViewBytes {
		data = data[:maxViewBytes]
		truncated = true
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}

	result := tool.Result{Output: b.String()}
	if truncated {
		result.System = fmt.Sprintf("file truncated to the first %d bytes", maxViewBytes)
	}
	return result
}

func (t *EditTool) create(path, text string) tool.Result {
	if _, err := os.Stat(path); err == nil {
		return tool.NewFailure(fmt.Sprintf("file already exists: %s", path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tool.NewFailure(fmt.Sprintf("cannot create directory for %s: %v", path, err))
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return tool.NewFailure(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	return tool.Result{Output: fmt.Sprintf("created %s", path)}
}

func (t *EditTool) strReplace(path, oldStr, newStr string) tool.Result {
	if oldStr == "" {
		return tool.NewFailure("old_str cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tool.NewFailure(fmt.Sprintf("cannot read %s: %v", path, err))
	}

	content := string(data)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return tool.NewFailure(fmt.Sprintf("old_str not found in %s", path))
	}
	if count > 1 {
		return tool.NewFailure(fmt.Sprintf("old_str occurs %d times in %s; it must be unique", count, path))
	}

	content = strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return tool.NewFailure(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	return tool.Result{Output: fmt.Sprintf("replaced 1 occurrence in %s", path)}
}

func (t *EditTool) insert(path string, afterLine int, text string) tool.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return tool.NewFailure(fmt.Sprintf("cannot read %s: %v", path, err))
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if afterLine < 0 || afterLine > len(lines) {
		return tool.NewFailure(fmt.Sprintf("insert_line %d out of range (file has %d lines)", afterLine, len(lines)))
	}

	inserted := strings.Split(text, "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:afterLine]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[afterLine:]...)

	if err := os.WriteFile(path, []byte(strings.Join(updated, "\n")+"\n"), 0o644); err != nil {
		return tool.NewFailure(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	return tool.Result{Output: fmt.Sprintf("inserted %d line(s) after line %d in %s", len(inserted), afterLine, path)}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
