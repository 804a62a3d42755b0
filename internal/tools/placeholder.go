package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/rants/pkg/models"
)

// staticTool covers tools that publish a schema to the compiler but have no
// executor of their own: the loop handles task and batch itself, and the
// search tools have no backend configured. Invoking one directly yields a
// tool-level failure rather than a fatal error.
type staticTool struct {
	name        string
	description string
	schema      json.RawMessage
	message     string
}

func (t *staticTool) Name() string { return t.name }

func (t *staticTool) Description() string { return t.description }

func (t *staticTool) Schema() json.RawMessage { return t.schema }

func (t *staticTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	return Errorf(models.ErrKindToolExec, "%s", t.message), nil
}

// NewTaskTool returns the schema-only task tool. The session loop intercepts
// task calls and runs them as child sessions; this executor only fires if a
// task call somehow reaches the registry directly.
func NewTaskTool() Tool {
	return &staticTool{
		name:        "task",
		description: "Run a recursive task",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string"},
				"prompt": {"type": "string"},
				"subagent_type": {"type": "string"},
				"session_id": {"type": "string"}
			},
			"required": ["description", "prompt", "subagent_type"]
		}`),
		message: "task tool must be executed by the session loop",
	}
}

// NewBatchTool returns the schema-only batch tool; the session loop expands
// batch calls into concurrent member executions.
func NewBatchTool() Tool {
	return &staticTool{
		name:        "batch",
		description: "Execute multiple tools",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tool_uses": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"recipient_name": {"type": "string"},
							"parameters": {"type": "object"}
						},
						"required": ["recipient_name", "parameters"]
					}
				}
			},
			"required": ["tool_uses"]
		}`),
		message: "batch tool must be executed by the session loop",
	}
}

func newWebsearchTool() Tool {
	return &staticTool{
		name:        "websearch",
		description: "Search the web",
		schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		message:     "websearch not configured",
	}
}

func newCodesearchTool() Tool {
	return &staticTool{
		name:        "codesearch",
		description: "Search code",
		schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		message:     "codesearch not configured",
	}
}
