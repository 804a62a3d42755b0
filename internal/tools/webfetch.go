package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/rants/pkg/models"
)

// WebfetchTool retrieves a URL and returns its body, capped at the
// configured webfetch byte limit before the usual output cap applies.
type WebfetchTool struct {
	client    *http.Client
	fetchMax  int
	outputMax int
}

func NewWebfetchTool(cfg Config) *WebfetchTool {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebfetchTool{client: client, fetchMax: cfg.WebfetchMaxBytes, outputMax: cfg.OutputMaxBytes}
}

func (t *WebfetchTool) Name() string { return "webfetch" }

func (t *WebfetchTool) Description() string { return "Fetch web content" }

func (t *WebfetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"url": {"type": "string"}},
		"required": ["url"]
	}`)
}

func (t *WebfetchTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf(models.ErrKindToolExec, "invalid parameters: %v", err), nil
	}
	if input.URL == "" {
		return Errorf(models.ErrKindToolExec, "missing url"), nil
	}
	if !strings.HasPrefix(input.URL, "http://") && !strings.HasPrefix(input.URL, "https://") {
		return Errorf(models.ErrKindToolExec, "unsupported url scheme"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "build request: %v", err), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf(models.ErrKindToolExec, "fetch: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Errorf(models.ErrKindToolExec, "fetch: unexpected status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.fetchMax)))
	if err != nil {
		return Errorf(models.ErrKindToolExec, "read body: %v", err), nil
	}
	content, dropped := CapBytes(string(body), t.outputMax)
	result := JSONResult(map[string]any{"url": input.URL, "content": content}, 0)
	result.BytesTruncated = dropped
	return result, nil
}
