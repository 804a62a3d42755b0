// Package compiler turns a plain-English tool intent into a validated
// tool_calls array using the dedicated tool-compiler backend.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/rants/internal/backend"
	"github.com/haasonsaas/rants/internal/observability"
	"github.com/haasonsaas/rants/internal/tools"
	"github.com/haasonsaas/rants/pkg/models"
)

const systemPrompt = `Return JSON only. Schema: {"tool_calls": [{"tool": <name>, "parameters": <object>}, ...]}. No prose, no code fences.`

// CompiledCall is one validated entry of the tool_calls array.
type CompiledCall struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// Error is a terminal compilation failure: parse or validation failed and
// the single repair attempt did not recover. The detail stays internal.
type Error struct {
	Detail string
}

func (e *Error) Error() string { return "tool compilation failed: " + e.Detail }

// Compiler drives the tool-compiler backend at temperature zero and
// validates its output against the registry schemas.
type Compiler struct {
	backend  backend.Backend
	registry *tools.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New builds a compiler over the given backend and registry.
func New(b backend.Backend, registry *tools.Registry, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		backend:  b,
		registry: registry,
		logger:   logger.With("component", "compiler"),
	}
}

// WithMetrics attaches repair instrumentation.
func (c *Compiler) WithMetrics(m *observability.Metrics) *Compiler {
	c.metrics = m
	return c
}

// Compile maps intent + compact context + schemas to validated calls. On a
// parse or validation failure it re-invokes the backend once with the prior
// output and the specific error appended, then revalidates; a second
// failure returns *Error. Upstream failures pass through unchanged.
func (c *Compiler) Compile(ctx context.Context, intent, compactContext string, schemas []models.ToolSchema) ([]CompiledCall, error) {
	validators, err := compileValidators(schemas)
	if err != nil {
		return nil, fmt.Errorf("compile tool schemas: %w", err)
	}

	messages := []backend.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserMessage(intent, compactContext, schemas)},
	}
	temperature := float32(0)

	completion, err := c.backend.Complete(ctx, backend.Request{Messages: messages, Temperature: &temperature})
	if err != nil {
		return nil, err
	}

	calls, validationErr := c.parseAndValidate(completion.Text, validators)
	if validationErr == nil {
		return calls, nil
	}
	c.logger.Warn("compilation failed, attempting repair", "error", validationErr)

	repair := append(messages,
		backend.Message{Role: "assistant", Content: completion.Text},
		backend.Message{Role: "user", Content: fmt.Sprintf(
			"Your previous output was invalid: %v. Return only the corrected JSON object.", validationErr)},
	)
	completion, err = c.backend.Complete(ctx, backend.Request{Messages: repair, Temperature: &temperature})
	if err != nil {
		return nil, err
	}
	calls, validationErr = c.parseAndValidate(completion.Text, validators)
	if validationErr != nil {
		c.metrics.ObserveCompileRepair(false)
		return nil, &Error{Detail: validationErr.Error()}
	}
	c.metrics.ObserveCompileRepair(true)
	return calls, nil
}

func (c *Compiler) parseAndValidate(raw string, validators map[string]*jsonschema.Schema) ([]CompiledCall, error) {
	calls, err := ParseToolCalls(raw)
	if err != nil {
		return nil, err
	}
	for i, call := range calls {
		if _, ok := c.registry.Get(call.Tool); !ok {
			return nil, fmt.Errorf("tool_calls[%d]: unknown tool %q", i, call.Tool)
		}
		params := call.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
			calls[i].Parameters = params
		}
		validator, ok := validators[call.Tool]
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(params, &decoded); err != nil {
			return nil, fmt.Errorf("tool_calls[%d]: parameters are not valid JSON: %v", i, err)
		}
		if err := validator.Validate(decoded); err != nil {
			return nil, fmt.Errorf("tool_calls[%d]: parameters do not match the %s schema: %v", i, call.Tool, err)
		}
	}
	return calls, nil
}

func compileValidators(schemas []models.ToolSchema) (map[string]*jsonschema.Schema, error) {
	validators := make(map[string]*jsonschema.Schema, len(schemas))
	for _, schema := range schemas {
		if len(schema.Parameters) == 0 {
			continue
		}
		compiled, err := jsonschema.CompileString(schema.Name+".json", string(schema.Parameters))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", schema.Name, err)
		}
		validators[schema.Name] = compiled
	}
	return validators, nil
}

func buildUserMessage(intent, compactContext string, schemas []models.ToolSchema) string {
	schemaJSON, _ := json.Marshal(schemas)
	var sb strings.Builder
	sb.WriteString("tool_schemas: ")
	sb.Write(schemaJSON)
	sb.WriteString("\n\ncontext:\n")
	sb.WriteString(compactContext)
	sb.WriteString("\n\ntool_intent: ")
	sb.WriteString(intent)
	return sb.String()
}
