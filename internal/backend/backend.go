// Package backend abstracts the upstream completion endpoints the gateway
// drives: the generator, the tool compiler, and the optional vision model.
package backend

import (
	"context"
	"fmt"
)

// Message is one chat turn sent upstream.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call. Temperature nil means provider
// default.
type Request struct {
	Messages    []Message
	Temperature *float32
	MaxTokens   int
}

// Usage is the token accounting reported by the upstream, when available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates usage across calls.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Completion is a finished upstream response.
type Completion struct {
	Text  string
	Usage Usage
}

// Chunk is one streaming increment. Done is set exactly once, on the final
// chunk; Err rides on that final chunk when the stream failed.
type Chunk struct {
	Text  string
	Usage Usage
	Done  bool
	Err   error
}

// Backend is the upstream completion port. Implementations retry transient
// failures internally and surface terminal ones as *UpstreamError.
type Backend interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// UpstreamError reports a failed upstream call after retries were exhausted
// or the failure was not retryable.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error: %s", e.Message)
}
