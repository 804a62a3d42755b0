package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/rants/pkg/models"
)

// ReadTool returns file contents as numbered lines.
type ReadTool struct {
	resolver  Resolver
	outputMax int
}

func NewReadTool(cfg Config) *ReadTool {
	return &ReadTool{resolver: Resolver{Root: cfg.WorkspaceRoot}, outputMax: cfg.OutputMaxBytes}
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string { return "Read a file from disk" }

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {"type": "string"},
			"offset": {"type": "integer"},
			"limit": {"type": "integer"}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		FilePath string `json:"filePath"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.FilePath == "" {
		return Errorf(models.ErrKindToolExec, "missing filePath"), nil
	}
	path, err := t.resolver.Resolve(input.FilePath)
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "read file: %v", err), nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 2000
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	lines := splitLines(string(data))
	if offset > len(lines) {
		offset = len(lines)
	}
	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}
	numbered := make([]string, 0, end-offset)
	for i, line := range lines[offset:end] {
		numbered = append(numbered, fmt.Sprintf("%05d| %s", offset+i+1, line))
	}

	capped, dropped := CapBytes(strings.Join(numbered, "\n"), t.outputMax)
	result := JSONResult(map[string]any{"file": capped}, 0)
	result.BytesTruncated = dropped
	return result, nil
}

// WriteTool creates or replaces a file, making parent directories as needed.
type WriteTool struct {
	resolver Resolver
}

func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.WorkspaceRoot}}
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string { return "Write a file to disk" }

func (t *WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		FilePath string `json:"filePath"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.FilePath == "" {
		return Errorf(models.ErrKindToolExec, "missing filePath"), nil
	}
	path, err := t.resolver.Resolve(input.FilePath)
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Errorf(models.ErrKindToolExec, "create parent dirs: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(input.Content), 0o644); err != nil {
		return Errorf(models.ErrKindToolExec, "write file: %v", err), nil
	}
	return JSONResult(map[string]any{"ok": true}, 0), nil
}

// editSpec is one string replacement within a file.
type editSpec struct {
	OldString  *string `json:"oldString"`
	NewString  *string `json:"newString"`
	ReplaceAll bool    `json:"replaceAll"`
}

func applyEdit(content string, edit editSpec) (string, error) {
	if edit.OldString == nil || edit.NewString == nil {
		return "", fmt.Errorf("missing edit parameters")
	}
	old, new_ := *edit.OldString, *edit.NewString
	if edit.ReplaceAll {
		if !strings.Contains(content, old) {
			return "", fmt.Errorf("oldString not found in content")
		}
		return strings.ReplaceAll(content, old, new_), nil
	}
	if strings.Count(content, old) != 1 {
		return "", fmt.Errorf("oldString must match exactly once")
	}
	return strings.Replace(content, old, new_, 1), nil
}

// EditTool performs a single string replacement.
type EditTool struct {
	resolver Resolver
}

func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.WorkspaceRoot}}
}

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string { return "Edit a file with string replacement" }

func (t *EditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {"type": "string"},
			"oldString": {"type": "string"},
			"newString": {"type": "string"},
			"replaceAll": {"type": "boolean"}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		FilePath string `json:"filePath"`
		editSpec
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.FilePath == "" {
		return Errorf(models.ErrKindToolExec, "missing filePath"), nil
	}
	path, err := t.resolver.Resolve(input.FilePath)
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "read file: %v", err), nil
	}
	content, err := applyEdit(string(data), input.editSpec)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "%v", err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf(models.ErrKindToolExec, "write file: %v", err), nil
	}
	return JSONResult(map[string]any{"ok": true}, 0), nil
}

// MultiEditTool applies a sequence of replacements atomically: the file is
// only rewritten when every edit succeeds against the running content.
type MultiEditTool struct {
	resolver Resolver
}

func NewMultiEditTool(cfg Config) *MultiEditTool {
	return &MultiEditTool{resolver: Resolver{Root: cfg.WorkspaceRoot}}
}

func (t *MultiEditTool) Name() string { return "multiedit" }

func (t *MultiEditTool) Description() string { return "Apply multiple edits to a file" }

func (t *MultiEditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {"type": "string"},
			"edits": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"oldString": {"type": "string"},
						"newString": {"type": "string"},
						"replaceAll": {"type": "boolean"}
					},
					"required": ["oldString", "newString"]
				}
			}
		},
		"required": ["filePath", "edits"]
	}`)
}

func (t *MultiEditTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		FilePath string     `json:"filePath"`
		Edits    []editSpec `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.FilePath == "" || input.Edits == nil {
		return Errorf(models.ErrKindToolExec, "missing edits"), nil
	}
	path, err := t.resolver.Resolve(input.FilePath)
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "read file: %v", err), nil
	}
	content := string(data)
	for i, edit := range input.Edits {
		content, err = applyEdit(content, edit)
		if err != nil {
			return Errorf(models.ErrKindToolExec, "edit %d: %v", i, err), nil
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf(models.ErrKindToolExec, "write file: %v", err), nil
	}
	return JSONResult(map[string]any{"ok": true}, 0), nil
}

// splitLines splits on \n without producing a trailing empty line for
// newline-terminated files, matching the read tool's line numbering.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
