package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/rants/pkg/models"
)

const (
	patchBegin      = "*** Begin Patch"
	patchEnd        = "*** End Patch"
	patchUpdateFile = "*** Update File:"
)

// PatchTool applies a simplified diff envelope: a "*** Begin Patch" header,
// one or more "*** Update File: <path>" sections whose bodies use +/- line
// prefixes, and a "*** End Patch" trailer.
type PatchTool struct {
	resolver Resolver
}

func NewPatchTool(cfg Config) *PatchTool {
	return &PatchTool{resolver: Resolver{Root: cfg.WorkspaceRoot}}
}

func (t *PatchTool) Name() string { return "patch" }

func (t *PatchTool) Description() string { return "Apply a unified diff patch" }

func (t *PatchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"patch": {"type": "string"}},
		"required": ["patch"]
	}`)
}

func (t *PatchTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.Patch == "" {
		return Errorf(models.ErrKindToolExec, "missing patch"), nil
	}

	lines := strings.Split(input.Patch, "\n")
	if !strings.HasPrefix(lines[0], patchBegin) {
		return Errorf(models.ErrKindToolExec, "invalid patch header"), nil
	}

	type fileResult struct {
		File string `json:"file"`
		OK   bool   `json:"ok"`
	}
	var (
		results     []fileResult
		currentPath string
		buffer      []string
	)
	flush := func() error {
		if currentPath == "" {
			return nil
		}
		if err := t.applyToFile(currentPath, buffer); err != nil {
			return fmt.Errorf("%s: %w", currentPath, err)
		}
		results = append(results, fileResult{File: currentPath, OK: true})
		currentPath = ""
		buffer = nil
		return nil
	}

	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, patchUpdateFile):
			if err := flush(); err != nil {
				return Errorf(models.ErrKindToolExec, "%v", err), nil
			}
			currentPath = strings.TrimSpace(strings.TrimPrefix(line, patchUpdateFile))
		case strings.HasPrefix(line, patchEnd):
			if err := flush(); err != nil {
				return Errorf(models.ErrKindToolExec, "%v", err), nil
			}
			return JSONResult(map[string]any{"results": results}, 0), nil
		default:
			buffer = append(buffer, line)
		}
	}
	if err := flush(); err != nil {
		return Errorf(models.ErrKindToolExec, "%v", err), nil
	}
	return JSONResult(map[string]any{"results": results}, 0), nil
}

// applyToFile replays a patch body against the file: "+" lines insert, "-"
// lines consume one original line, "@@" lines are hunk markers, and anything
// else copies one original line through.
func (t *PatchTool) applyToFile(path string, body []string) error {
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	lines := splitLines(string(data))

	var newLines []string
	index := 0
	for _, patchLine := range body {
		switch {
		case strings.HasPrefix(patchLine, "@@"):
		case strings.HasPrefix(patchLine, "+"):
			newLines = append(newLines, patchLine[1:])
		case strings.HasPrefix(patchLine, "-"):
			index++
		default:
			if index < len(lines) {
				newLines = append(newLines, lines[index])
			}
			index++
		}
	}
	if index < len(lines) {
		newLines = append(newLines, lines[index:]...)
	}

	content := strings.Join(newLines, "\n") + "\n"
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
