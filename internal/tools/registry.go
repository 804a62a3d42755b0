// Package tools implements the gateway-executed tool runtime: the registry,
// the sandbox contract, and the built-in executors.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/rants/pkg/models"
)

// Tool is the single-method capability every executor exposes. Executors
// never return a Go error for tool-level failures; those surface on the
// Result with OK=false and an error kind, so the loop can continue.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is the outcome of one execution before it is bound to a call id.
type Result struct {
	OK             bool
	Output         string
	ErrorKind      models.ErrorKind
	BytesTruncated int
}

// Errorf builds a failed result with a taxonomy kind.
func Errorf(kind models.ErrorKind, format string, args ...any) *Result {
	return &Result{
		OK:        false,
		Output:    fmt.Sprintf(format, args...),
		ErrorKind: kind,
	}
}

// JSONResult marshals payload and applies the output byte cap.
func JSONResult(payload any, maxBytes int) *Result {
	data, err := json.Marshal(payload)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "encode result: %v", err)
	}
	out, truncated := CapBytes(string(data), maxBytes)
	return &Result{OK: true, Output: out, BytesTruncated: truncated}
}

// Registry maps tool names to executors. The registered set is fixed at
// startup and identical across sessions of a tenant; its canonical digest
// is recorded on every transcript.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; re-registering a name replaces it.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas returns the tool schemas in registration order.
func (r *Registry) Schemas() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]models.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		schemas = append(schemas, models.ToolSchema{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return schemas
}

// Digest returns the SHA-256 of the canonical JSON encoding of the schema
// list (name-sorted, compact). Sessions record it so a schema drift across
// steps is detectable.
func Digest(schemas []models.ToolSchema) string {
	sorted := make([]models.ToolSchema, len(schemas))
	copy(sorted, schemas)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	payload, err := json.Marshal(sorted)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
