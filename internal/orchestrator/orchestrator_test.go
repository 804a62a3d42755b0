package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/rants/internal/audit"
	"github.com/haasonsaas/rants/internal/backend"
	"github.com/haasonsaas/rants/internal/compiler"
	"github.com/haasonsaas/rants/internal/config"
	"github.com/haasonsaas/rants/internal/store"
	"github.com/haasonsaas/rants/internal/tools"
	"github.com/haasonsaas/rants/pkg/models"
)

// fakeBackend replays scripted completions, optionally delaying until the
// context expires.
type fakeBackend struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	calls   int
	block   bool
}

func (f *fakeBackend) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.outputs) {
		return f.outputs[len(f.outputs)-1], nil
	}
	return f.outputs[i], nil
}

func (f *fakeBackend) Complete(ctx context.Context, req backend.Request) (*backend.Completion, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	text, err := f.next()
	if err != nil {
		return nil, err
	}
	return &backend.Completion{Text: text, Usage: backend.Usage{InputTokens: 5, OutputTokens: 5}}, nil
}

func (f *fakeBackend) Stream(ctx context.Context, req backend.Request) (<-chan backend.Chunk, error) {
	text, err := f.next()
	if err != nil {
		return nil, err
	}
	chunks := make(chan backend.Chunk)
	go func() {
		defer close(chunks)
		for len(text) > 0 {
			n := 5
			if n > len(text) {
				n = len(text)
			}
			chunks <- backend.Chunk{Text: text[:n]}
			text = text[n:]
		}
		chunks <- backend.Chunk{Done: true, Usage: backend.Usage{InputTokens: 5, OutputTokens: 5}}
	}()
	return chunks, nil
}

type testEnv struct {
	orch      *Orchestrator
	store     *store.Store
	cfg       *config.Config
	workspace string
}

func newTestEnv(t *testing.T, generator, compilerBackend backend.Backend, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Limits.WorkspaceRoot = t.TempDir()
	cfg.Limits.MaxWallclockSecs = 30
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := tools.NewDefaultRegistry(tools.Config{
		WorkspaceRoot:    cfg.Limits.WorkspaceRoot,
		OutputMaxBytes:   cfg.Limits.ToolOutputMaxBytes,
		WebfetchMaxBytes: cfg.Limits.WebfetchMaxBytes,
	})
	comp := compiler.New(compilerBackend, registry, nil)
	orch := New(cfg, st, registry, generator, comp, audit.NewRecorder(st, nil), nil, nil)
	return &testEnv{orch: orch, store: st, cfg: cfg, workspace: cfg.Limits.WorkspaceRoot}
}

func runRequest(input string) RunRequest {
	return RunRequest{
		TenantID:     "anonymous",
		Model:        "rants_one",
		Input:        input,
		ExecuteTools: true,
		Persist:      true,
	}
}

func TestRun_PlainText(t *testing.T) {
	gen := &fakeBackend{outputs: []string{"Hello world."}}
	env := newTestEnv(t, gen, &fakeBackend{outputs: []string{"{}"}}, nil)

	result, err := env.orch.Run(context.Background(), runRequest("hi"), nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello world.", result.Response.Text())
	assert.Equal(t, models.ResponseCompleted, result.Response.Status)
	require.Len(t, result.Transcript.Steps, 1)
	assert.Empty(t, result.Transcript.Steps[0].ToolCalls)
	assert.Equal(t, models.SessionCompleted, result.Session.Status)
	assert.Equal(t, 1, gen.calls)

	// Round trip through the store.
	loaded, transcript, err := env.store.LoadSession(context.Background(), result.Session.ID, "anonymous")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, loaded.Status)
	require.Len(t, transcript.Steps, 1)
	assert.Equal(t, "Hello world.", transcript.Steps[0].GeneratorOutput)
}

func TestRun_ToolLoopExecutesEdit(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"Updating README.\nTOOL_INTENT: edit README.md to fix the mermaid block",
		"Done.",
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "edit", "parameters": {"filePath": "README.md", "oldString": "broken", "newString": "fixed"}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.workspace, "README.md"), []byte("a broken block"), 0o644))

	result, err := env.orch.Run(context.Background(), runRequest("fix the readme"), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(env.workspace, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "a fixed block", string(data))

	require.Len(t, result.Transcript.Steps, 2)
	first := result.Transcript.Steps[0]
	assert.Equal(t, "Updating README.", first.GeneratorOutput)
	require.Len(t, first.ToolCalls, 1)
	require.Len(t, first.ToolResults, 1)
	assert.True(t, first.ToolResults[0].OK)
	assert.Equal(t, "Updating README.\nDone.", result.Response.Text())

	// Audit trail: exactly one event, ok=true.
	events, err := env.store.ListAudit(context.Background(), result.Session.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "edit", events[0].Tool)
	assert.True(t, events[0].OK)
}

func TestRun_StreamingHidesIntent(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"Updating README.\nTOOL_INTENT: read README.md",
		"All done.",
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "read", "parameters": {"filePath": "README.md"}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.workspace, "README.md"), []byte("content"), 0o644))

	var deltas strings.Builder
	var events []EventType
	req := runRequest("read the readme")
	req.Stream = true
	result, err := env.orch.Run(context.Background(), req, func(e Event) {
		events = append(events, e.Type)
		if e.Type == EventTextDelta {
			deltas.WriteString(e.Delta)
		}
	})
	require.NoError(t, err)

	assert.NotContains(t, deltas.String(), "TOOL_INTENT:")
	// The concatenated deltas are exactly the final text.
	assert.Equal(t, "Updating README.\nAll done.", deltas.String())
	assert.Equal(t, result.Response.Text(), deltas.String())
	assert.Equal(t, EventSessionStarted, events[0])
	assert.Equal(t, EventCompleted, events[len(events)-1])
	assert.Contains(t, events, EventToolPhaseStarted)
}

func TestRun_StreamingHidesMidLineIntent(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"summary so far TOOL_INTENT: read README.md",
		"All done.",
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "read", "parameters": {"filePath": "README.md"}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.workspace, "README.md"), []byte("content"), 0o644))

	var deltas strings.Builder
	req := runRequest("read the readme")
	req.Stream = true
	result, err := env.orch.Run(context.Background(), req, func(e Event) {
		if e.Type == EventTextDelta {
			deltas.WriteString(e.Delta)
		}
	})
	require.NoError(t, err)

	assert.NotContains(t, deltas.String(), "TOOL_INTENT:")
	assert.Equal(t, "summary so far\nAll done.", deltas.String())
	assert.Equal(t, result.Response.Text(), deltas.String())
}

func TestRun_TaskRecursion(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"TOOL_INTENT: task: summarize all files under src/",
		"3 files, 420 LOC total.", // child generation
		"Summary ready.",          // parent resumes
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "task", "parameters": {"description": "summarize", "prompt": "summarize all files under src/", "subagent_type": "general"}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)

	result, err := env.orch.Run(context.Background(), runRequest("summarize src"), nil)
	require.NoError(t, err)

	require.Len(t, result.Transcript.Steps, 2)
	taskResult := result.Transcript.Steps[0].ToolResults[0]
	require.True(t, taskResult.OK)

	var payload struct {
		SessionID string `json:"session_id"`
		Summary   string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(taskResult.Output), &payload))
	assert.Equal(t, "3 files, 420 LOC total.", payload.Summary)

	child, childTranscript, err := env.store.LoadSession(context.Background(), payload.SessionID, "anonymous")
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, child.ParentID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, models.SessionCompleted, child.Status)
	require.Len(t, childTranscript.Steps, 1)
}

func TestRun_TaskSummaryIsLastOutput(t *testing.T) {
	// A multi-step child summarizes with its last assistant output, not the
	// joined text of every step.
	gen := &fakeBackend{outputs: []string{
		"TOOL_INTENT: task: count the files",
		"Scanning the tree.\nTOOL_INTENT: list files", // child step 1
		"3 files, 420 LOC total.",                     // child step 2
		"Summary ready.",                              // parent resumes
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "task", "parameters": {"description": "count", "prompt": "count the files", "subagent_type": "general"}}]}`,
		`{"tool_calls": [{"tool": "ls", "parameters": {}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)

	result, err := env.orch.Run(context.Background(), runRequest("count files"), nil)
	require.NoError(t, err)

	taskResult := result.Transcript.Steps[0].ToolResults[0]
	require.True(t, taskResult.OK)

	var payload struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(taskResult.Output), &payload))
	assert.Equal(t, "3 files, 420 LOC total.", payload.Summary)
}

func TestRun_RecursionLimit(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"TOOL_INTENT: task: do a thing",
		"Could not recurse.",
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "task", "parameters": {"description": "x", "prompt": "do a thing", "subagent_type": "general"}}]}`,
	}}
	env := newTestEnv(t, gen, comp, func(cfg *config.Config) {
		cfg.RLM.RantsOne.MaxDepth = 0
	})

	result, err := env.orch.Run(context.Background(), runRequest("go"), nil)
	require.NoError(t, err, "a recursion-limit tool failure must not fail the session")

	taskResult := result.Transcript.Steps[0].ToolResults[0]
	assert.False(t, taskResult.OK)
	assert.Equal(t, models.ErrKindRecursionLimit, taskResult.ErrorKind)
	assert.Equal(t, models.SessionCompleted, result.Session.Status)
}

func TestRun_IterationCap(t *testing.T) {
	// The generator always wants another tool; the loop must stop at the
	// cap with a synthetic terminal step.
	gen := &fakeBackend{outputs: []string{"TOOL_INTENT: list files"}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "ls", "parameters": {}}]}`,
	}}
	env := newTestEnv(t, gen, comp, func(cfg *config.Config) {
		cfg.Limits.MaxToolIterations = 2
	})

	result, err := env.orch.Run(context.Background(), runRequest("loop forever"), nil)
	require.NoError(t, err)

	require.Len(t, result.Transcript.Steps, 3)
	assert.NotEmpty(t, result.Transcript.Steps[0].ToolCalls)
	assert.NotEmpty(t, result.Transcript.Steps[1].ToolCalls)
	terminal := result.Transcript.Steps[2]
	assert.Empty(t, terminal.ToolCalls)
	assert.Empty(t, terminal.ToolIntent)
	assert.Equal(t, 2, gen.calls)
}

func TestRun_ModelIterationCap(t *testing.T) {
	// The virtual model's own cap wins when it is tighter than the global
	// limit.
	gen := &fakeBackend{outputs: []string{"TOOL_INTENT: list files"}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "ls", "parameters": {}}]}`,
	}}
	env := newTestEnv(t, gen, comp, func(cfg *config.Config) {
		cfg.Limits.MaxToolIterations = 5
		cfg.RLM.RantsOne.MaxIterations = 2
	})

	result, err := env.orch.Run(context.Background(), runRequest("loop forever"), nil)
	require.NoError(t, err)

	require.Len(t, result.Transcript.Steps, 3)
	assert.Empty(t, result.Transcript.Steps[2].ToolCalls)
	assert.Equal(t, 2, gen.calls)
}

func TestRun_DeadlineExceeded(t *testing.T) {
	gen := &fakeBackend{block: true}
	env := newTestEnv(t, gen, &fakeBackend{outputs: []string{"{}"}}, func(cfg *config.Config) {
		cfg.Limits.MaxWallclockSecs = 1
	})

	start := time.Now()
	_, err := env.orch.Run(context.Background(), runRequest("slow"), nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	var sessionErr *SessionError
	require.True(t, errors.As(err, &sessionErr))
	assert.Equal(t, models.ErrKindDeadlineExceeded, sessionErr.Kind)
}

func TestRun_ClientCancel(t *testing.T) {
	gen := &fakeBackend{block: true}
	env := newTestEnv(t, gen, &fakeBackend{outputs: []string{"{}"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := env.orch.Run(ctx, runRequest("x"), nil)
	require.Error(t, err)

	var sessionErr *SessionError
	require.True(t, errors.As(err, &sessionErr))
	assert.Equal(t, models.ErrKindCancelled, sessionErr.Kind)
}

func TestRun_UpstreamErrorFailsSession(t *testing.T) {
	gen := &fakeBackend{errs: []error{&backend.UpstreamError{Status: 500, Message: "boom"}}, outputs: []string{""}}
	env := newTestEnv(t, gen, &fakeBackend{outputs: []string{"{}"}}, nil)

	var failed bool
	_, err := env.orch.Run(context.Background(), runRequest("x"), func(e Event) {
		if e.Type == EventFailed {
			failed = true
		}
	})
	require.Error(t, err)
	assert.True(t, failed)

	var sessionErr *SessionError
	require.True(t, errors.As(err, &sessionErr))
	assert.Equal(t, models.ErrKindUpstream, sessionErr.Kind)
	assert.Contains(t, sessionErr.Message, "500")
}

func TestRun_EmptyCompilationTerminates(t *testing.T) {
	gen := &fakeBackend{outputs: []string{"Working on it.\nTOOL_INTENT: do something"}}
	comp := &fakeBackend{outputs: []string{`{"tool_calls": []}`}}
	env := newTestEnv(t, gen, comp, nil)

	result, err := env.orch.Run(context.Background(), runRequest("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Working on it.", result.Response.Text())
	require.Len(t, result.Transcript.Steps, 1)
	assert.Empty(t, result.Transcript.Steps[0].ToolCalls)
	assert.Equal(t, 1, gen.calls)
}

func TestRun_ToolFailureDoesNotAbort(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"TOOL_INTENT: read the missing file",
		"The file does not exist.",
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "read", "parameters": {"filePath": "missing.txt"}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)

	result, err := env.orch.Run(context.Background(), runRequest("read it"), nil)
	require.NoError(t, err)

	first := result.Transcript.Steps[0]
	require.Len(t, first.ToolResults, 1)
	assert.False(t, first.ToolResults[0].OK)
	assert.Equal(t, models.ErrKindToolExec, first.ToolResults[0].ErrorKind)
	assert.Equal(t, models.SessionCompleted, result.Session.Status)
}

func TestRun_ShimModeCompilesWithoutExecuting(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"Updating README.\nTOOL_INTENT: edit README.md to fix the mermaid block",
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "edit", "parameters": {"filePath": "README.md", "oldString": "broken", "newString": "fixed"}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)
	original := []byte("a broken block")
	require.NoError(t, os.WriteFile(filepath.Join(env.workspace, "README.md"), original, 0o644))

	req := runRequest("fix the readme")
	req.ExecuteTools = false
	req.Persist = false
	result, err := env.orch.Run(context.Background(), req, nil)
	require.NoError(t, err)

	require.NotNil(t, result.LastStep)
	require.Len(t, result.LastStep.ToolCalls, 1)
	assert.Equal(t, "edit", result.LastStep.ToolCalls[0].Tool)
	assert.Empty(t, result.LastStep.ToolResults)

	// Nothing executed, nothing persisted.
	data, _ := os.ReadFile(filepath.Join(env.workspace, "README.md"))
	assert.Equal(t, original, data)
	_, _, err = env.store.LoadSession(context.Background(), result.Session.ID, "anonymous")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_PreviousResponseContinuation(t *testing.T) {
	gen := &fakeBackend{outputs: []string{"First answer.", "Second answer."}}
	env := newTestEnv(t, gen, &fakeBackend{outputs: []string{"{}"}}, nil)

	first, err := env.orch.Run(context.Background(), runRequest("one"), nil)
	require.NoError(t, err)

	req := runRequest("two")
	req.PreviousResponseID = first.Response.ID
	second, err := env.orch.Run(context.Background(), req, nil)
	require.NoError(t, err)

	// The continuation sees the prior step and appends its own.
	require.Len(t, second.Transcript.Steps, 2)
	assert.Equal(t, "First answer.", second.Transcript.Steps[0].GeneratorOutput)
	assert.Equal(t, "Second answer.", second.Response.Text())
}

func TestRun_PreviousResponseTenantMismatch(t *testing.T) {
	gen := &fakeBackend{outputs: []string{"Answer."}}
	env := newTestEnv(t, gen, &fakeBackend{outputs: []string{"{}"}}, nil)

	first, err := env.orch.Run(context.Background(), runRequest("one"), nil)
	require.NoError(t, err)

	req := runRequest("two")
	req.TenantID = "other"
	req.PreviousResponseID = first.Response.ID
	_, err = env.orch.Run(context.Background(), req, nil)

	var sessionErr *SessionError
	require.True(t, errors.As(err, &sessionErr))
	assert.Equal(t, models.ErrKindNotFound, sessionErr.Kind)
}

func TestRun_BatchOrderedResults(t *testing.T) {
	gen := &fakeBackend{outputs: []string{
		"TOOL_INTENT: run both commands",
		"Both ran.",
	}}
	comp := &fakeBackend{outputs: []string{
		`{"tool_calls": [{"tool": "batch", "parameters": {"tool_uses": [
			{"recipient_name": "bash", "parameters": {"command": "sleep 0.2; echo slow"}},
			{"recipient_name": "bash", "parameters": {"command": "echo fast"}}
		]}}]}`,
	}}
	env := newTestEnv(t, gen, comp, nil)

	result, err := env.orch.Run(context.Background(), runRequest("run things"), nil)
	require.NoError(t, err)

	batchResult := result.Transcript.Steps[0].ToolResults[0]
	require.True(t, batchResult.OK)

	var payload struct {
		Results []struct {
			Tool   string `json:"tool"`
			OK     bool   `json:"ok"`
			Output string `json:"output"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(batchResult.Output), &payload))
	require.Len(t, payload.Results, 2)
	// Declared order, not completion order.
	assert.Contains(t, payload.Results[0].Output, "slow")
	assert.Contains(t, payload.Results[1].Output, "fast")
}
