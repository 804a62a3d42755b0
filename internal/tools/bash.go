package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/haasonsaas/rants/pkg/models"
)

// BashTool runs shell commands inside the workspace.
type BashTool struct {
	resolver  Resolver
	outputMax int
}

// NewBashTool creates a bash tool scoped to the workspace root.
func NewBashTool(cfg Config) *BashTool {
	return &BashTool{
		resolver:  Resolver{Root: cfg.WorkspaceRoot},
		outputMax: cfg.OutputMaxBytes,
	}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string { return "Execute a shell command" }

func (t *BashTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"},
			"timeout": {"type": "integer"},
			"workdir": {"type": "string"}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"` // milliseconds
		Workdir string `json:"workdir"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.Command == "" {
		return Errorf(models.ErrKindToolExec, "missing command"), nil
	}

	cwd, err := t.resolver.Resolve(".")
	if err != nil {
		return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
	}
	if input.Workdir != "" {
		cwd, err = t.resolver.Resolve(input.Workdir)
		if err != nil {
			return Errorf(models.ErrKindSandboxViolation, "%v", err), nil
		}
	}

	timeout := 120 * time.Second
	if input.Timeout > 0 {
		timeout = time.Duration(input.Timeout) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", input.Command)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Errorf(models.ErrKindToolExec, "run command: %v", err), nil
		}
	}

	outStr, outDropped := CapBytes(stdout.String(), t.outputMax)
	errStr, errDropped := CapBytes(stderr.String(), t.outputMax)
	result := JSONResult(map[string]any{
		"exit_code": exitCode,
		"stdout":    outStr,
		"stderr":    errStr,
	}, 0)
	result.BytesTruncated = outDropped + errDropped
	return result, nil
}
