package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/rants/pkg/models"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		WorkspaceRoot:    t.TempDir(),
		OutputMaxBytes:   16384,
		WebfetchMaxBytes: 5 * 1024 * 1024,
	}
}

func mustExecute(t *testing.T, tool Tool, params string) *Result {
	t.Helper()
	result, err := tool.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	return result
}

func decodeOutput(t *testing.T, result *Result) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Output), &out))
	return out
}

func TestBashTool(t *testing.T) {
	cfg := testConfig(t)
	tool := NewBashTool(cfg)

	result := mustExecute(t, tool, `{"command": "echo hello; echo oops >&2; exit 3"}`)
	require.True(t, result.OK)
	out := decodeOutput(t, result)
	assert.Equal(t, float64(3), out["exit_code"])
	assert.Equal(t, "hello\n", out["stdout"])
	assert.Equal(t, "oops\n", out["stderr"])
}

func TestBashTool_OutputCapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputMaxBytes = 32
	tool := NewBashTool(cfg)

	result := mustExecute(t, tool, `{"command": "printf 'a%.0s' $(seq 1 100)"}`)
	require.True(t, result.OK)
	assert.Greater(t, result.BytesTruncated, 0)
	out := decodeOutput(t, result)
	assert.Contains(t, out["stdout"], "[output truncated]")
}

func TestBashTool_MissingCommand(t *testing.T) {
	tool := NewBashTool(testConfig(t))
	result := mustExecute(t, tool, `{}`)
	assert.False(t, result.OK)
	assert.Equal(t, models.ErrKindToolExec, result.ErrorKind)
}

func TestReadTool(t *testing.T) {
	cfg := testConfig(t)
	content := "alpha\nbeta\ngamma\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkspaceRoot, "a.txt"), []byte(content), 0o644))

	tool := NewReadTool(cfg)
	result := mustExecute(t, tool, `{"filePath": "a.txt"}`)
	require.True(t, result.OK)
	out := decodeOutput(t, result)
	assert.Equal(t, "00001| alpha\n00002| beta\n00003| gamma", out["file"])
}

func TestReadTool_OffsetLimit(t *testing.T) {
	cfg := testConfig(t)
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "line%d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkspaceRoot, "a.txt"), []byte(sb.String()), 0o644))

	tool := NewReadTool(cfg)
	result := mustExecute(t, tool, `{"filePath": "a.txt", "offset": 2, "limit": 2}`)
	out := decodeOutput(t, result)
	assert.Equal(t, "00003| line3\n00004| line4", out["file"])
}

func TestReadTool_SandboxViolation(t *testing.T) {
	tool := NewReadTool(testConfig(t))
	result := mustExecute(t, tool, `{"filePath": "../etc/passwd"}`)
	assert.False(t, result.OK)
	assert.Equal(t, models.ErrKindSandboxViolation, result.ErrorKind)
}

func TestWriteThenEdit(t *testing.T) {
	cfg := testConfig(t)
	write := NewWriteTool(cfg)
	edit := NewEditTool(cfg)

	result := mustExecute(t, write, `{"filePath": "dir/b.txt", "content": "hello world"}`)
	require.True(t, result.OK)

	result = mustExecute(t, edit, `{"filePath": "dir/b.txt", "oldString": "world", "newString": "there"}`)
	require.True(t, result.OK)

	data, err := os.ReadFile(filepath.Join(cfg.WorkspaceRoot, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(data))
}

func TestEditTool_AmbiguousMatch(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkspaceRoot, "c.txt"), []byte("aa aa"), 0o644))

	tool := NewEditTool(cfg)
	result := mustExecute(t, tool, `{"filePath": "c.txt", "oldString": "aa", "newString": "bb"}`)
	assert.False(t, result.OK)
	assert.Contains(t, result.Output, "exactly once")

	result = mustExecute(t, tool, `{"filePath": "c.txt", "oldString": "aa", "newString": "bb", "replaceAll": true}`)
	require.True(t, result.OK)
	data, _ := os.ReadFile(filepath.Join(cfg.WorkspaceRoot, "c.txt"))
	assert.Equal(t, "bb bb", string(data))
}

func TestMultiEditTool_AllOrNothing(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.WorkspaceRoot, "d.txt")
	require.NoError(t, os.WriteFile(path, []byte("one two three"), 0o644))

	tool := NewMultiEditTool(cfg)
	result := mustExecute(t, tool, `{"filePath": "d.txt", "edits": [
		{"oldString": "one", "newString": "1"},
		{"oldString": "missing", "newString": "x"}
	]}`)
	assert.False(t, result.OK)

	// Failed batch leaves the file untouched.
	data, _ := os.ReadFile(path)
	assert.Equal(t, "one two three", string(data))

	result = mustExecute(t, tool, `{"filePath": "d.txt", "edits": [
		{"oldString": "one", "newString": "1"},
		{"oldString": "two", "newString": "2"}
	]}`)
	require.True(t, result.OK)
	data, _ = os.ReadFile(path)
	assert.Equal(t, "1 2 three", string(data))
}

func TestPatchTool(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.WorkspaceRoot, "e.txt")
	require.NoError(t, os.WriteFile(path, []byte("keep\nold\nrest\n"), 0o644))

	patch := "*** Begin Patch\n*** Update File: e.txt\n@@\n keep\n-old\n+new\n*** End Patch"
	payload, err := json.Marshal(map[string]string{"patch": patch})
	require.NoError(t, err)

	tool := NewPatchTool(cfg)
	result := mustExecute(t, tool, string(payload))
	require.True(t, result.OK, result.Output)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep\nnew\nrest\n", string(data))
}

func TestPatchTool_BadHeader(t *testing.T) {
	tool := NewPatchTool(testConfig(t))
	result := mustExecute(t, tool, `{"patch": "not a patch"}`)
	assert.False(t, result.OK)
	assert.Contains(t, result.Output, "invalid patch header")
}

func TestLsGlobGrep(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.WorkspaceRoot, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkspaceRoot, "src", "main.go"), []byte("package main\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkspaceRoot, "notes.txt"), []byte("todo: main\n"), 0o644))

	ls := NewLsTool(cfg)
	result := mustExecute(t, ls, `{}`)
	out := decodeOutput(t, result)
	assert.ElementsMatch(t, []any{"src", "notes.txt"}, out["entries"])

	glob := NewGlobTool(cfg)
	result = mustExecute(t, glob, `{"pattern": "**/*.go"}`)
	out = decodeOutput(t, result)
	assert.Equal(t, []any{filepath.Join("src", "main.go")}, out["matches"])

	grep := NewGrepTool(cfg)
	result = mustExecute(t, grep, `{"pattern": "func main", "include": "*.go"}`)
	out = decodeOutput(t, result)
	matches := out["results"].([]any)
	require.Len(t, matches, 1)
	match := matches[0].(map[string]any)
	assert.Equal(t, filepath.Join("src", "main.go"), match["file"])
	assert.Equal(t, float64(2), match["line"])
}

func TestWebfetchTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "remote body")
	}))
	defer server.Close()

	cfg := testConfig(t)
	tool := NewWebfetchTool(cfg)
	payload, _ := json.Marshal(map[string]string{"url": server.URL})
	result := mustExecute(t, tool, string(payload))
	require.True(t, result.OK)
	out := decodeOutput(t, result)
	assert.Equal(t, "remote body", out["content"])
}

func TestWebfetchTool_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	tool := NewWebfetchTool(testConfig(t))
	payload, _ := json.Marshal(map[string]string{"url": server.URL})
	result := mustExecute(t, tool, string(payload))
	assert.False(t, result.OK)
	assert.Equal(t, models.ErrKindToolExec, result.ErrorKind)
}

func TestDefaultRegistry(t *testing.T) {
	registry := NewDefaultRegistry(testConfig(t))

	for _, name := range []string{"bash", "read", "write", "edit", "multiedit", "patch", "ls", "glob", "grep", "webfetch", "task", "batch"} {
		_, ok := registry.Get(name)
		assert.True(t, ok, "tool %s should be registered", name)
	}

	// task and batch are loop-executed; a direct call fails as a tool error.
	task, _ := registry.Get("task")
	result, err := task.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.OK)
}

func TestDigestStableAcrossOrder(t *testing.T) {
	a := []models.ToolSchema{
		{Name: "bash", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "read", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	b := []models.ToolSchema{a[1], a[0]}

	assert.Equal(t, Digest(a), Digest(b))
	assert.NotEmpty(t, Digest(a))

	c := []models.ToolSchema{a[0]}
	assert.NotEqual(t, Digest(a), Digest(c))
}
