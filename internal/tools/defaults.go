package tools

import "net/http"

// Config carries the sandbox and limit settings shared by the executors.
type Config struct {
	WorkspaceRoot    string
	OutputMaxBytes   int
	WebfetchMaxBytes int

	// HTTPClient overrides the webfetch client, mainly for tests.
	HTTPClient *http.Client
}

// NewDefaultRegistry builds the fixed tool set every session sees. The
// registration order here is the order schemas are presented to the
// compiler, so it is part of the schema digest.
func NewDefaultRegistry(cfg Config) *Registry {
	registry := NewRegistry()
	registry.Register(NewBashTool(cfg))
	registry.Register(NewReadTool(cfg))
	registry.Register(NewWriteTool(cfg))
	registry.Register(NewEditTool(cfg))
	registry.Register(NewMultiEditTool(cfg))
	registry.Register(NewPatchTool(cfg))
	registry.Register(NewLsTool(cfg))
	registry.Register(NewGlobTool(cfg))
	registry.Register(NewGrepTool(cfg))
	registry.Register(NewWebfetchTool(cfg))
	registry.Register(newWebsearchTool())
	registry.Register(newCodesearchTool())
	registry.Register(NewTaskTool())
	registry.Register(NewBatchTool())
	return registry
}
