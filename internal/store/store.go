// Package store persists sessions, transcripts, responses, and audit
// events in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/rants/pkg/models"
)

// Sentinel errors surfaced to callers; the gateway maps them to the wire.
var (
	// ErrNotFound is returned for unknown ids and for tenant mismatches.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when a step index does not
	// extend the session's step sequence by exactly one.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrSessionTerminal is returned when mutating a finished session.
	ErrSessionTerminal = errors.New("session already terminal")
)

// Store owns all durable gateway state. A step append is a single
// transaction covering the step row, its calls, and its results, so a step
// is either fully visible or absent.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Serialize writers at the pool level; SQLite allows one writer anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema migration: %w", err)
		}
	}
	return nil
}

// NewResponseID mints an OpenAI-style response id.
func NewResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateSession inserts a new session row with its transcript header.
func (s *Store) CreateSession(ctx context.Context, session *models.RecursiveSession, transcript *models.CanonicalTranscript) error {
	parent := sql.NullString{String: session.ParentID, Valid: session.ParentID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, parent_id, tenant_id, depth, status, created_at, deadline_at, system, user_input, tool_schema_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, parent, session.TenantID, session.Depth, string(session.Status),
		encodeTime(session.CreatedAt), encodeTime(session.DeadlineAt),
		transcript.System, transcript.User, transcript.ToolSchemaDigest,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSessionStatus transitions a session's status. Status is the only
// field mutable after termination.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, tenantID string, status models.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE session_id = ? AND tenant_id = ?`,
		string(status), sessionID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadSession returns the session and its reconstructed transcript.
// A tenant mismatch is indistinguishable from an unknown id.
func (s *Store) LoadSession(ctx context.Context, sessionID, tenantID string) (*models.RecursiveSession, *models.CanonicalTranscript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT parent_id, depth, status, created_at, deadline_at, system, user_input, tool_schema_digest
		FROM sessions WHERE session_id = ? AND tenant_id = ?`,
		sessionID, tenantID,
	)
	var (
		parent                        sql.NullString
		depth                         int
		status                        string
		createdAt, deadlineAt         string
		system, userInput, digestText string
	)
	if err := row.Scan(&parent, &depth, &status, &createdAt, &deadlineAt, &system, &userInput, &digestText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("load session: %w", err)
	}

	session := &models.RecursiveSession{
		ID:         sessionID,
		ParentID:   parent.String,
		TenantID:   tenantID,
		Depth:      depth,
		CreatedAt:  decodeTime(createdAt),
		DeadlineAt: decodeTime(deadlineAt),
		Status:     models.SessionStatus(status),
	}
	transcript := &models.CanonicalTranscript{
		System:           system,
		User:             userInput,
		ToolSchemaDigest: digestText,
		Steps:            []models.Step{},
	}

	steps, err := s.loadSteps(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	transcript.Steps = steps
	return session, transcript, nil
}

func (s *Store) loadSteps(ctx context.Context, sessionID string) ([]models.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, generator_output, tool_intent, started_at, finished_at
		FROM steps WHERE session_id = ? ORDER BY step_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	var steps []models.Step
	var indices []int
	for rows.Next() {
		var (
			index                  int
			output, intent         string
			startedAt, finishedAt  string
		)
		if err := rows.Scan(&index, &output, &intent, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		steps = append(steps, models.Step{
			GeneratorOutput: output,
			ToolIntent:      intent,
			ToolCalls:       []models.ToolCall{},
			ToolResults:     []models.ToolResult{},
			StartedAt:       decodeTime(startedAt),
			FinishedAt:      decodeTime(finishedAt),
		})
		indices = append(indices, index)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, index := range indices {
		calls, results, err := s.loadStepCalls(ctx, sessionID, index)
		if err != nil {
			return nil, err
		}
		steps[i].ToolCalls = calls
		steps[i].ToolResults = results
	}
	return steps, nil
}

func (s *Store) loadStepCalls(ctx context.Context, sessionID string, stepIndex int) ([]models.ToolCall, []models.ToolResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.call_id, c.tool, c.parameters,
		       r.ok, r.output, r.error_kind, r.started_at, r.finished_at, r.bytes_truncated
		FROM tool_calls c
		JOIN tool_results r ON r.call_id = c.call_id
		WHERE c.session_id = ? AND c.step_index = ?
		ORDER BY c.seq`,
		sessionID, stepIndex,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("load tool calls: %w", err)
	}
	defer rows.Close()

	calls := []models.ToolCall{}
	results := []models.ToolResult{}
	for rows.Next() {
		var (
			callID, tool, params  string
			ok                    bool
			output, kind          string
			startedAt, finishedAt string
			truncated             int
		)
		if err := rows.Scan(&callID, &tool, &params, &ok, &output, &kind, &startedAt, &finishedAt, &truncated); err != nil {
			return nil, nil, err
		}
		calls = append(calls, models.ToolCall{
			ID:         callID,
			Tool:       tool,
			Parameters: json.RawMessage(params),
			StepIndex:  stepIndex,
			SessionID:  sessionID,
		})
		results = append(results, models.ToolResult{
			CallID:         callID,
			OK:             ok,
			Output:         output,
			ErrorKind:      models.ErrorKind(kind),
			StartedAt:      decodeTime(startedAt),
			FinishedAt:     decodeTime(finishedAt),
			BytesTruncated: truncated,
		})
	}
	return calls, results, rows.Err()
}

// AppendStep records a finalized step with its calls and results in one
// transaction. stepIndex must extend the existing sequence by exactly one;
// gaps and duplicates fail with ErrConcurrentModification.
func (s *Store) AppendStep(ctx context.Context, sessionID, tenantID string, stepIndex int, step models.Step) error {
	if len(step.ToolCalls) != len(step.ToolResults) {
		return fmt.Errorf("step calls/results mismatch: %d != %d", len(step.ToolCalls), len(step.ToolResults))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append step: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	var status string
	if err := tx.QueryRowContext(ctx,
		`SELECT status FROM sessions WHERE session_id = ? AND tenant_id = ?`,
		sessionID, tenantID,
	).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if models.SessionStatus(status) != models.SessionRunning {
		return ErrSessionTerminal
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM steps WHERE session_id = ?`, sessionID,
	).Scan(&count); err != nil {
		return err
	}
	if count != stepIndex {
		return ErrConcurrentModification
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO steps (session_id, step_index, generator_output, tool_intent, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, stepIndex, step.GeneratorOutput, step.ToolIntent,
		encodeTime(step.StartedAt), encodeTime(step.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	for i, call := range step.ToolCalls {
		result := step.ToolResults[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (call_id, session_id, step_index, seq, tool, parameters)
			VALUES (?, ?, ?, ?, ?, ?)`,
			call.ID, sessionID, stepIndex, i, call.Tool, string(call.Parameters),
		); err != nil {
			return fmt.Errorf("insert tool call: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_results (call_id, session_id, step_index, ok, output, error_kind, started_at, finished_at, bytes_truncated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.CallID, sessionID, stepIndex, result.OK, result.Output, string(result.ErrorKind),
			encodeTime(result.StartedAt), encodeTime(result.FinishedAt), result.BytesTruncated,
		); err != nil {
			return fmt.Errorf("insert tool result: %w", err)
		}
	}

	return tx.Commit()
}

// PersistResponse stores a final ResponseObject together with the
// transcript snapshot it was produced from.
func (s *Store) PersistResponse(ctx context.Context, tenantID, sessionID string, resp *models.ResponseObject, transcript *models.CanonicalTranscript) error {
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	prev := sql.NullString{String: resp.PreviousResponseID, Valid: resp.PreviousResponseID != ""}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responses (response_id, tenant_id, session_id, model, created_at, previous_response_id, response_json, transcript_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, tenantID, sessionID, resp.Model, resp.CreatedAt, prev, string(respJSON), string(transcriptJSON),
	)
	if err != nil {
		return fmt.Errorf("persist response: %w", err)
	}
	return nil
}

// LookupResponse loads a stored response and its transcript, scoped to the
// tenant. A tenant mismatch returns ErrNotFound.
func (s *Store) LookupResponse(ctx context.Context, responseID, tenantID string) (*models.ResponseObject, *models.CanonicalTranscript, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT response_json, transcript_json FROM responses WHERE response_id = ? AND tenant_id = ?`,
		responseID, tenantID,
	)
	var respJSON, transcriptJSON string
	if err := row.Scan(&respJSON, &transcriptJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("lookup response: %w", err)
	}
	var resp models.ResponseObject
	if err := json.Unmarshal([]byte(respJSON), &resp); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	var transcript models.CanonicalTranscript
	if err := json.Unmarshal([]byte(transcriptJSON), &transcript); err != nil {
		return nil, nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &resp, &transcript, nil
}

// RecordAudit appends one audit event. Audit rows are never updated.
func (s *Store) RecordAudit(ctx context.Context, event models.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (tenant_id, session_id, step_index, call_id, tool, ok, error_kind, timestamp, size_before, size_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.TenantID, event.SessionID, event.StepIndex, event.CallID, event.Tool,
		event.OK, string(event.ErrorKind), encodeTime(event.Timestamp), event.SizeBefore, event.SizeAfter,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListAudit returns a session's audit events ordered by (step, call).
func (s *Store) ListAudit(ctx context.Context, sessionID string) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, step_index, call_id, tool, ok, error_kind, timestamp, size_before, size_after
		FROM audit WHERE session_id = ? ORDER BY step_index, call_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			event models.AuditEvent
			kind  string
			ts    string
		)
		event.SessionID = sessionID
		if err := rows.Scan(&event.TenantID, &event.StepIndex, &event.CallID, &event.Tool, &event.OK, &kind, &ts, &event.SizeBefore, &event.SizeAfter); err != nil {
			return nil, err
		}
		event.ErrorKind = models.ErrorKind(kind)
		event.Timestamp = decodeTime(ts)
		events = append(events, event)
	}
	return events, rows.Err()
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
