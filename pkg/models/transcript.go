package models

import (
	"encoding/json"
	"time"
)

// CanonicalTranscript is the context C presented to the generator for one
// session: the system prompt, the normalized user input, and the ordered
// steps recorded so far. ToolSchemaDigest pins the tool-schema set visible
// to the session; it must match across steps.
type CanonicalTranscript struct {
	System           string `json:"system,omitempty"`
	User             string `json:"user"`
	ToolSchemaDigest string `json:"tool_schema_digest,omitempty"`
	Steps            []Step `json:"steps"`
}

// LastAssistantText returns the most recent non-empty generator output.
// Used to condense a child session into a task tool result.
func (t *CanonicalTranscript) LastAssistantText() string {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].GeneratorOutput != "" {
			return t.Steps[i].GeneratorOutput
		}
	}
	return ""
}

// Step records one generation cycle. Invariants on a finalized step:
// len(ToolCalls) == len(ToolResults), and both are empty when ToolIntent
// is empty.
type Step struct {
	GeneratorOutput string       `json:"generator_output"`
	ToolIntent      string       `json:"tool_intent,omitempty"`
	ToolCalls       []ToolCall   `json:"tool_calls"`
	ToolResults     []ToolResult `json:"tool_results"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}

// ToolCall is a compiled, schema-validated invocation of a registered tool.
type ToolCall struct {
	ID         string          `json:"id"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
	StepIndex  int             `json:"step_index"`
	SessionID  string          `json:"session_id"`
}

// ToolResult is the outcome of one tool call, recorded in call order.
// Tool-level failures are never fatal to the session: they surface here
// with OK=false and an ErrorKind, and the next generation observes them.
type ToolResult struct {
	CallID         string    `json:"call_id"`
	OK             bool      `json:"ok"`
	Output         string    `json:"output"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	BytesTruncated int       `json:"bytes_truncated,omitempty"`
}

// ToolSchema describes a registered tool to the generator and the compiler.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// AuditEvent is an append-only record of one tool execution.
type AuditEvent struct {
	TenantID   string    `json:"tenant_id"`
	SessionID  string    `json:"session_id"`
	StepIndex  int       `json:"step_index"`
	CallID     string    `json:"call_id"`
	Tool       string    `json:"tool"`
	OK         bool      `json:"ok"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SizeBefore int       `json:"size_before"`
	SizeAfter  int       `json:"size_after"`
}
