// Package orchestrator runs the recursive session loop: generate, parse,
// compile, execute, append, bounded by iterations, depth, and wallclock.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rants/internal/audit"
	"github.com/haasonsaas/rants/internal/backend"
	"github.com/haasonsaas/rants/internal/compiler"
	"github.com/haasonsaas/rants/internal/config"
	"github.com/haasonsaas/rants/internal/observability"
	"github.com/haasonsaas/rants/internal/rlm"
	"github.com/haasonsaas/rants/internal/store"
	"github.com/haasonsaas/rants/internal/tools"
	"github.com/haasonsaas/rants/pkg/models"
)

// Orchestrator drives recursive sessions. One instance is shared by all
// requests; per-session state lives on the stack of Run.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	registry  *tools.Registry
	generator backend.Backend
	compiler  *compiler.Compiler
	audit     *audit.Recorder
	metrics   *observability.Metrics
	logger    *slog.Logger

	// sem bounds concurrent tool executions process-wide.
	sem chan struct{}
}

// New wires the orchestrator. metrics may be nil in tests.
func New(
	cfg *config.Config,
	st *store.Store,
	registry *tools.Registry,
	generator backend.Backend,
	comp *compiler.Compiler,
	recorder *audit.Recorder,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Limits.ToolWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		generator: generator,
		compiler:  comp,
		audit:     recorder,
		metrics:   metrics,
		logger:    logger.With("component", "orchestrator"),
		sem:       make(chan struct{}, workers),
	}
}

// RunRequest describes one root session.
type RunRequest struct {
	TenantID           string
	Model              string
	System             string
	Input              string
	ToolChoice         string
	PreviousResponseID string
	Stream             bool
	// ExecuteTools is false in chat shim mode: one generation plus
	// compilation, calls returned to the client, nothing executed.
	ExecuteTools bool
	// Persist is false in shim mode; the transcript is ground truth for
	// one turn only and no session rows are written.
	Persist     bool
	Temperature *float32
	MaxTokens   int
	// History seeds the transcript with steps reconstructed by the chat
	// shim from prior assistant and tool messages. Mutually exclusive with
	// PreviousResponseID.
	History []models.Step
}

// RunResult is the outcome of a finished root session.
type RunResult struct {
	Response   *models.ResponseObject
	Transcript *models.CanonicalTranscript
	Session    *models.RecursiveSession
	// LastStep is the final transcript step; the chat shim reads its
	// ToolCalls to emit finish_reason "tool_calls".
	LastStep *models.Step
	Usage    backend.Usage
}

// Run executes a root session end to end. Events stream to sink in order;
// sink may be nil. On failure the returned error is always a *SessionError.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, sink Sink) (*RunResult, error) {
	if sink == nil {
		sink = discard
	}

	schemas := o.registry.Schemas()
	transcript := &models.CanonicalTranscript{
		System:           req.System,
		User:             req.Input,
		ToolSchemaDigest: tools.Digest(schemas),
		Steps:            []models.Step{},
	}
	if req.PreviousResponseID != "" {
		_, previous, err := o.store.LookupResponse(ctx, req.PreviousResponseID, req.TenantID)
		if err != nil {
			return nil, Classify(err)
		}
		transcript.Steps = append(transcript.Steps, previous.Steps...)
		if transcript.System == "" {
			transcript.System = previous.System
		}
	}
	transcript.Steps = append(transcript.Steps, req.History...)

	now := time.Now().UTC()
	session := &models.RecursiveSession{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		Depth:      0,
		CreatedAt:  now,
		DeadlineAt: now.Add(time.Duration(o.cfg.Limits.MaxWallclockSecs) * time.Second),
		Status:     models.SessionRunning,
	}
	if req.Persist {
		if err := o.store.CreateSession(ctx, session, transcript); err != nil {
			return nil, Classify(err)
		}
	}

	response := o.newResponse(req, schemas)
	sink(Event{Type: EventSessionStarted, Response: response})

	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
		defer o.metrics.ActiveSessions.Dec()
	}

	sessionCtx, cancel := context.WithDeadline(ctx, session.DeadlineAt)
	defer cancel()

	loop, err := o.runLoop(sessionCtx, session, transcript, loopOptions{
		Stream:       req.Stream,
		ExecuteTools: req.ExecuteTools,
		Persist:      req.Persist,
		ToolChoice:   req.ToolChoice,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		BaseSteps:    len(transcript.Steps),
	}, sink)
	elapsed := time.Since(now)

	if err != nil {
		sessionErr := Classify(err)
		status := models.SessionFailed
		if sessionErr.Kind == models.ErrKindCancelled {
			status = models.SessionCancelled
		}
		o.finishSession(session, status, req.Persist)
		o.metrics.ObserveSession(string(status), session.Depth, elapsed.Seconds())
		o.logger.Error("session failed",
			"session_id", session.ID,
			"tenant_id", session.TenantID,
			"kind", sessionErr.Kind,
			"error", sessionErr.Err)
		sink(Event{Type: EventFailed, Err: sessionErr})
		return nil, sessionErr
	}

	response.Status = models.ResponseCompleted
	response.Output[0].Status = "completed"
	response.Output[0].Content[0].Text = loop.Text
	response.Usage = &models.ResponseUsage{
		InputTokens:  loop.Usage.InputTokens,
		OutputTokens: loop.Usage.OutputTokens,
		TotalTokens:  loop.Usage.InputTokens + loop.Usage.OutputTokens,
	}
	o.metrics.ObserveTokens(loop.Usage.InputTokens, loop.Usage.OutputTokens)

	if req.Persist {
		if err := o.store.PersistResponse(ctx, req.TenantID, session.ID, response, transcript); err != nil {
			sessionErr := Classify(err)
			o.finishSession(session, models.SessionFailed, req.Persist)
			sink(Event{Type: EventFailed, Err: sessionErr})
			return nil, sessionErr
		}
	}
	o.finishSession(session, models.SessionCompleted, req.Persist)
	o.metrics.ObserveSession(string(models.SessionCompleted), session.Depth, elapsed.Seconds())

	sink(Event{Type: EventTextDone, Text: loop.Text})
	sink(Event{Type: EventCompleted, Response: response})

	return &RunResult{
		Response:   response,
		Transcript: transcript,
		Session:    session,
		LastStep:   loop.LastStep,
		Usage:      loop.Usage,
	}, nil
}

func (o *Orchestrator) newResponse(req RunRequest, schemas []models.ToolSchema) *models.ResponseObject {
	return &models.ResponseObject{
		ID:        store.NewResponseID(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    models.ResponseInProgress,
		Model:     req.Model,
		Output: []models.OutputMessage{{
			Type:    "message",
			ID:      "msg_" + uuid.NewString()[:8],
			Status:  "in_progress",
			Role:    "assistant",
			Content: []models.OutputTextContent{{Type: "output_text", Text: ""}},
		}},
		PreviousResponseID: req.PreviousResponseID,
		Temperature:        req.Temperature,
		ToolChoice:         req.ToolChoice,
		Tools:              schemas,
		User:               req.TenantID,
	}
}

// finishSession updates the session status, best effort: the response has
// already been decided when this runs.
func (o *Orchestrator) finishSession(session *models.RecursiveSession, status models.SessionStatus, persist bool) {
	session.Status = status
	if !persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.UpdateSessionStatus(ctx, session.ID, session.TenantID, status); err != nil {
		o.logger.Error("session status update failed", "session_id", session.ID, "error", err)
	}
}

type loopOptions struct {
	Stream       bool
	ExecuteTools bool
	Persist      bool
	ToolChoice   string
	Temperature  *float32
	MaxTokens    int
	// BaseSteps is how many transcript steps predate this run; persisted
	// step indexes are session-local and start at zero.
	BaseSteps int
}

type loopResult struct {
	Text     string
	Usage    backend.Usage
	LastStep *models.Step
}

// runLoop is the per-session iteration engine, shared by root sessions and
// task children.
func (o *Orchestrator) runLoop(
	ctx context.Context,
	session *models.RecursiveSession,
	transcript *models.CanonicalTranscript,
	opts loopOptions,
	sink Sink,
) (*loopResult, error) {
	if sink == nil {
		sink = discard
	}
	schemas := o.registry.Schemas()

	var (
		texts    []string
		usage    backend.Usage
		lastStep *models.Step
		terminal bool
	)

	appendStep := func(step models.Step) error {
		transcript.Steps = append(transcript.Steps, step)
		lastStep = &transcript.Steps[len(transcript.Steps)-1]
		if !opts.Persist {
			return nil
		}
		localIndex := len(transcript.Steps) - 1 - opts.BaseSteps
		return o.store.AppendStep(ctx, session.ID, session.TenantID, localIndex, step)
	}

	// The virtual model's own iteration cap tightens the global limit.
	maxIterations := o.cfg.Limits.MaxToolIterations
	if modelCap := o.cfg.RLM.RantsOne.MaxIterations; modelCap > 0 && modelCap < maxIterations {
		maxIterations = modelCap
	}
	for iterations := 0; iterations < maxIterations; iterations++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stepStart := time.Now().UTC()

		raw, genUsage, err := o.generate(ctx, transcript, schemas, opts, len(texts) > 0, sink)
		if err != nil {
			return nil, err
		}
		usage.Add(genUsage)

		output := rlm.ParseOutput(raw, o.cfg.Limits.MaxIntentLineBytes)
		if output.Text != "" {
			texts = append(texts, output.Text)
		}

		step := models.Step{
			GeneratorOutput: output.Text,
			ToolIntent:      output.Intent,
			ToolCalls:       []models.ToolCall{},
			ToolResults:     []models.ToolResult{},
			StartedAt:       stepStart,
		}

		if !output.HasIntent() {
			step.FinishedAt = time.Now().UTC()
			if err := appendStep(step); err != nil {
				return nil, err
			}
			terminal = true
			break
		}

		calls, err := o.compiler.Compile(ctx, output.Intent, compiler.CompactContext(transcript), schemas)
		if err != nil {
			return nil, err
		}
		if len(calls) == 0 {
			// Empty compilation ends the loop; the client only sees the
			// text produced so far.
			o.logger.Warn("compiler produced no tool calls",
				"session_id", session.ID, "intent", output.Intent, "kind", models.ErrKindEmptyCompilation)
			step.FinishedAt = time.Now().UTC()
			if err := appendStep(step); err != nil {
				return nil, err
			}
			terminal = true
			break
		}

		stepIndex := len(transcript.Steps)
		for _, call := range calls {
			step.ToolCalls = append(step.ToolCalls, models.ToolCall{
				ID:         uuid.NewString(),
				Tool:       call.Tool,
				Parameters: call.Parameters,
				StepIndex:  stepIndex,
				SessionID:  session.ID,
			})
		}

		if !opts.ExecuteTools {
			// Shim mode: calls go back to the client unexecuted.
			step.FinishedAt = time.Now().UTC()
			transcript.Steps = append(transcript.Steps, step)
			lastStep = &transcript.Steps[len(transcript.Steps)-1]
			terminal = true
			break
		}

		sink(Event{Type: EventToolPhaseStarted})
		step.ToolResults = o.executeCalls(ctx, session, step.ToolCalls, stepIndex)
		sink(Event{Type: EventToolPhaseDone})

		step.FinishedAt = time.Now().UTC()
		if err := appendStep(step); err != nil {
			return nil, err
		}
	}

	if !terminal {
		// Iteration cap: the loop ends with a synthetic terminal step and
		// no further compilation.
		now := time.Now().UTC()
		if err := appendStep(models.Step{
			ToolCalls:   []models.ToolCall{},
			ToolResults: []models.ToolResult{},
			StartedAt:   now,
			FinishedAt:  now,
		}); err != nil {
			return nil, err
		}
	}

	return &loopResult{
		Text:     strings.Join(texts, "\n"),
		Usage:    usage,
		LastStep: lastStep,
	}, nil
}

// generate invokes the generator over the transcript. When streaming, text
// deltas flow through the intent scanner so a client never observes the
// intent marker; the raw output is still returned intact for parsing.
// needSep inserts the newline that joins this step's text to the text of
// earlier steps, keeping the streamed bytes equal to the final text.
func (o *Orchestrator) generate(
	ctx context.Context,
	transcript *models.CanonicalTranscript,
	schemas []models.ToolSchema,
	opts loopOptions,
	needSep bool,
	sink Sink,
) (string, backend.Usage, error) {
	req := backend.Request{
		Messages:    rlm.BuildMessages(transcript, schemas, opts.ToolChoice),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	if !opts.Stream {
		completion, err := o.generator.Complete(ctx, req)
		if err != nil {
			return "", backend.Usage{}, err
		}
		return completion.Text, completion.Usage, nil
	}

	chunks, err := o.generator.Stream(ctx, req)
	if err != nil {
		return "", backend.Usage{}, err
	}

	scanner := rlm.NewIntentScanner(o.cfg.Limits.MaxIntentLineBytes)
	var raw strings.Builder
	var usage backend.Usage
	emit := func(safe string) {
		if safe == "" {
			return
		}
		if needSep {
			safe = "\n" + safe
			needSep = false
		}
		sink(Event{Type: EventTextDelta, Delta: safe})
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", usage, chunk.Err
		}
		if chunk.Done {
			usage = chunk.Usage
			break
		}
		raw.WriteString(chunk.Text)
		emit(scanner.Feed(chunk.Text))
	}
	emit(scanner.Finish())
	return raw.String(), usage, nil
}

// executeCalls runs the step's calls in declared order. Failures become
// per-call results; nothing here aborts the session.
func (o *Orchestrator) executeCalls(
	ctx context.Context,
	session *models.RecursiveSession,
	calls []models.ToolCall,
	stepIndex int,
) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = o.executeOne(ctx, session, call, stepIndex)
	}
	return results
}

func (o *Orchestrator) executeOne(
	ctx context.Context,
	session *models.RecursiveSession,
	call models.ToolCall,
	stepIndex int,
) models.ToolResult {
	started := time.Now().UTC()
	res := o.dispatch(ctx, session, call)
	finished := time.Now().UTC()

	o.audit.ToolExecution(ctx, models.AuditEvent{
		TenantID:   session.TenantID,
		SessionID:  session.ID,
		StepIndex:  stepIndex,
		CallID:     call.ID,
		Tool:       call.Tool,
		OK:         res.OK,
		ErrorKind:  res.ErrorKind,
		Timestamp:  finished,
		SizeBefore: len(call.Parameters),
		SizeAfter:  len(res.Output),
	})
	o.metrics.ObserveToolExecution(call.Tool, res.OK, finished.Sub(started).Seconds())

	return models.ToolResult{
		CallID:         call.ID,
		OK:             res.OK,
		Output:         res.Output,
		ErrorKind:      res.ErrorKind,
		StartedAt:      started,
		FinishedAt:     finished,
		BytesTruncated: res.BytesTruncated,
	}
}

// dispatch routes a call: task and batch are loop-executed, everything
// else runs on the bounded worker pool.
func (o *Orchestrator) dispatch(ctx context.Context, session *models.RecursiveSession, call models.ToolCall) *tools.Result {
	switch call.Tool {
	case "task":
		return o.runTask(ctx, session, call.Parameters)
	case "batch":
		return o.runBatch(ctx, session, call.Parameters)
	}

	tool, ok := o.registry.Get(call.Tool)
	if !ok {
		return tools.Errorf(models.ErrKindToolExec, "unknown tool %q", call.Tool)
	}
	if err := o.acquireWorker(ctx); err != nil {
		return tools.Errorf(models.ErrKindToolExec, "tool execution aborted: %v", err)
	}
	defer o.releaseWorker()

	result, err := tool.Execute(ctx, call.Parameters)
	if err != nil {
		return tools.Errorf(models.ErrKindToolExec, "%v", err)
	}
	return result
}

func (o *Orchestrator) acquireWorker(ctx context.Context) error {
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) releaseWorker() { <-o.sem }
