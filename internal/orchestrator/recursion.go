package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rants/internal/tools"
	"github.com/haasonsaas/rants/pkg/models"
)

// runTask executes the recursion primitive: a child session with its own
// independent transcript, depth+1, and the remaining wallclock of the
// parent. The parent blocks until the child terminates; the child's final
// user-visible text comes back as the tool result.
func (o *Orchestrator) runTask(ctx context.Context, parent *models.RecursiveSession, params json.RawMessage) *tools.Result {
	var input struct {
		Description  string `json:"description"`
		Prompt       string `json:"prompt"`
		SubagentType string `json:"subagent_type"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf(models.ErrKindToolExec, "invalid task parameters: %v", err)
	}
	prompt := input.Prompt
	if prompt == "" {
		prompt = input.Description
	}
	if prompt == "" {
		return tools.Errorf(models.ErrKindToolExec, "task requires a prompt")
	}

	maxDepth := o.cfg.RLM.RantsOne.MaxDepth
	if parent.Depth+1 > maxDepth {
		return tools.Errorf(models.ErrKindRecursionLimit,
			"task recursion would exceed max depth %d", maxDepth)
	}

	schemas := o.registry.Schemas()
	child := &models.RecursiveSession{
		ID:         uuid.NewString(),
		ParentID:   parent.ID,
		TenantID:   parent.TenantID,
		Depth:      parent.Depth + 1,
		CreatedAt:  time.Now().UTC(),
		DeadlineAt: parent.DeadlineAt, // inherits the remaining wallclock
		Status:     models.SessionRunning,
	}
	transcript := &models.CanonicalTranscript{
		User:             prompt,
		ToolSchemaDigest: tools.Digest(schemas),
		Steps:            []models.Step{},
	}
	if err := o.store.CreateSession(ctx, child, transcript); err != nil {
		return tools.Errorf(models.ErrKindToolExec, "create child session: %v", err)
	}

	o.logger.Info("task recursion started",
		"session_id", child.ID, "parent_id", parent.ID, "depth", child.Depth)

	loop, err := o.runLoop(ctx, child, transcript, loopOptions{
		ExecuteTools: true,
		Persist:      true,
	}, nil)
	if err != nil {
		sessionErr := Classify(err)
		status := models.SessionFailed
		if sessionErr.Kind == models.ErrKindCancelled {
			status = models.SessionCancelled
		}
		o.finishSession(child, status, true)
		return tools.Errorf(sessionErr.Kind, "task failed: %v", sessionErr)
	}
	o.finishSession(child, models.SessionCompleted, true)
	o.metrics.ObserveSession(string(models.SessionCompleted), child.Depth, time.Since(child.CreatedAt).Seconds())

	// The summary is the child's last non-empty assistant output; the joined
	// text of all steps is only a fallback when no single step produced text.
	summary, _ := tools.CapBytes(transcript.LastAssistantText(), o.cfg.Limits.ToolOutputMaxBytes)
	if summary == "" {
		summary, _ = tools.CapBytes(loop.Text, o.cfg.Limits.ToolOutputMaxBytes)
	}
	return tools.JSONResult(map[string]any{
		"session_id": child.ID,
		"summary":    summary,
	}, 0)
}

// batchUse is one member of a batch call.
type batchUse struct {
	RecipientName string          `json:"recipient_name"`
	Parameters    json.RawMessage `json:"parameters"`
}

// runBatch executes the members concurrently on the worker pool and
// aggregates their outcomes in declared order, independent of completion
// order. The batch itself succeeds even when members fail; member failures
// are visible inside the aggregated output.
func (o *Orchestrator) runBatch(ctx context.Context, session *models.RecursiveSession, params json.RawMessage) *tools.Result {
	var input struct {
		ToolUses []batchUse `json:"tool_uses"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf(models.ErrKindToolExec, "invalid batch parameters: %v", err)
	}
	if len(input.ToolUses) == 0 {
		return tools.Errorf(models.ErrKindToolExec, "batch requires tool_uses")
	}

	type memberResult struct {
		Tool      string           `json:"tool"`
		OK        bool             `json:"ok"`
		Output    string           `json:"output"`
		ErrorKind models.ErrorKind `json:"error_kind,omitempty"`
	}
	results := make([]memberResult, len(input.ToolUses))

	var wg sync.WaitGroup
	for i, use := range input.ToolUses {
		wg.Add(1)
		go func(i int, use batchUse) {
			defer wg.Done()
			res := o.runBatchMember(ctx, use)
			results[i] = memberResult{
				Tool:      use.RecipientName,
				OK:        res.OK,
				Output:    res.Output,
				ErrorKind: res.ErrorKind,
			}
		}(i, use)
	}
	wg.Wait()

	return tools.JSONResult(map[string]any{"results": results}, o.cfg.Limits.ToolOutputMaxBytes)
}

// runBatchMember executes one batch member. Recursion primitives may not
// nest inside a batch; the member set is plain registry tools.
func (o *Orchestrator) runBatchMember(ctx context.Context, use batchUse) *tools.Result {
	if use.RecipientName == "task" || use.RecipientName == "batch" {
		return tools.Errorf(models.ErrKindToolExec, "%s is not allowed inside batch", use.RecipientName)
	}
	tool, ok := o.registry.Get(use.RecipientName)
	if !ok {
		return tools.Errorf(models.ErrKindToolExec, "unknown tool %q", use.RecipientName)
	}
	if err := o.acquireWorker(ctx); err != nil {
		return tools.Errorf(models.ErrKindToolExec, "tool execution aborted: %v", err)
	}
	defer o.releaseWorker()

	params := use.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	result, err := tool.Execute(ctx, params)
	if err != nil {
		return tools.Errorf(models.ErrKindToolExec, "%v", err)
	}
	return result
}
