package tools

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/rants/pkg/models"
)

// LsTool lists directory entries.
type LsTool struct {
	resolver  Resolver
	outputMax int
}

func NewLsTool(cfg Config) *LsTool {
	return &LsTool{resolver: Resolver{Root: cfg.WorkspaceRoot}, outputMax: cfg.OutputMaxBytes}
}

func (t *LsTool) Name() string { return "ls" }

func (t *LsTool) Description() string { return "List directory entries" }

func (t *LsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}}
	}`)
}

func (t *LsTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	path, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "list directory: %v", err), nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return JSONResult(map[string]any{"entries": names}, t.outputMax), nil
}

// GlobTool matches file paths against a glob pattern. Patterns containing
// "**" match recursively.
type GlobTool struct {
	resolver  Resolver
	root      string
	outputMax int
}

func NewGlobTool(cfg Config) *GlobTool {
	return &GlobTool{
		resolver:  Resolver{Root: cfg.WorkspaceRoot},
		root:      cfg.WorkspaceRoot,
		outputMax: cfg.OutputMaxBytes,
	}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string { return "Match file paths" }

func (t *GlobTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"path": {"type": "string"}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.Pattern == "" {
		return Errorf(models.ErrKindToolExec, "missing pattern"), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	base, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	rootAbs, err := t.resolver.Resolve(".")
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}

	var matches []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if globMatch(input.Pattern, rel) {
			workspaceRel, relErr := filepath.Rel(rootAbs, path)
			if relErr == nil {
				matches = append(matches, workspaceRel)
			}
		}
		return nil
	})
	if err != nil {
		return Errorf(models.ErrKindToolExec, "walk: %v", err), nil
	}
	return JSONResult(map[string]any{"matches": matches}, t.outputMax), nil
}

// globMatch supports "**" as any number of path segments on top of
// path.Match semantics.
func globMatch(pattern, name string) bool {
	pattern = filepath.ToSlash(pattern)
	name = filepath.ToSlash(name)
	if !strings.Contains(pattern, "**") {
		ok, err := filepath.Match(pattern, name)
		return err == nil && ok
	}
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")
	if prefix != "" {
		if !strings.HasPrefix(name, prefix+"/") && name != prefix {
			return false
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/")
	}
	if suffix == "" {
		return true
	}
	segments := strings.Split(name, "/")
	for i := range segments {
		if globMatch(suffix, strings.Join(segments[i:], "/")) {
			return true
		}
	}
	return false
}

// GrepTool searches file contents line by line with a regular expression.
// Binary files are skipped.
type GrepTool struct {
	resolver  Resolver
	root      string
	outputMax int
}

func NewGrepTool(cfg Config) *GrepTool {
	return &GrepTool{
		resolver:  Resolver{Root: cfg.WorkspaceRoot},
		root:      cfg.WorkspaceRoot,
		outputMax: cfg.OutputMaxBytes,
	}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string { return "Search file contents" }

func (t *GrepTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"path": {"type": "string"},
			"include": {"type": "string"}
		},
		"required": ["pattern"]
	}`)
}

type grepMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Include string `json:"include"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.Pattern == "" {
		return Errorf(models.ErrKindToolExec, "missing pattern"), nil
	}
	regex, err := regexp.Compile(input.Pattern)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "invalid pattern: %v", err), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	base, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	rootAbs, err := t.resolver.Resolve(".")
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}

	var results []grepMatch
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		if input.Include != "" {
			if ok, matchErr := filepath.Match(input.Include, d.Name()); matchErr != nil || !ok {
				return nil
			}
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil || !utf8.Valid(data) {
			return nil
		}
		rel, relErr := filepath.Rel(rootAbs, path)
		if relErr != nil {
			return nil
		}
		for i, line := range splitLines(string(data)) {
			if regex.MatchString(line) {
				results = append(results, grepMatch{File: rel, Line: i + 1, Text: line})
			}
		}
		return nil
	})
	if err != nil {
		return Errorf(models.ErrKindToolExec, "walk: %v", err), nil
	}
	return JSONResult(map[string]any{"results": results}, t.outputMax), nil
}
