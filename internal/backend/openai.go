package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/rants/internal/config"
	"github.com/haasonsaas/rants/internal/retry"
)

// OpenAIBackend speaks the OpenAI-compatible chat completions API against a
// configured base URL. Transient failures (timeouts, 429, 5xx) are retried
// with backoff; other API errors surface immediately as *UpstreamError.
type OpenAIBackend struct {
	client   *openai.Client
	model    string
	retryCfg retry.Config
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOpenAI builds a backend for one upstream endpoint.
func NewOpenAI(endpoint config.ModelEndpointConfig, resilience config.ResilienceConfig, logger *slog.Logger) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(endpoint.APIKey)
	if endpoint.BaseURL != "" {
		clientCfg.BaseURL = endpoint.BaseURL
	}

	timeout := time.Duration(resilience.RequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIBackend{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    endpoint.Model,
		retryCfg: retry.FromPolicy(resilience.MaxRetries, resilience.BackoffSeconds),
		timeout:  timeout,
		logger:   logger.With("component", "backend", "model", endpoint.Model),
	}
}

func (b *OpenAIBackend) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: messages,
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		t := *req.Temperature
		// The SDK drops a zero temperature as unset.
		if t == 0 {
			t = math.SmallestNonzeroFloat32
		}
		chatReq.Temperature = t
	}
	if stream {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return chatReq
}

// Complete performs a blocking completion call.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (*Completion, error) {
	chatReq := b.buildRequest(req, false)

	resp, err := retry.DoWithValue(ctx, b.retryCfg, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := b.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			b.logger.Warn("completion call failed", "error", err)
			return resp, classify(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, asUpstream(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{Message: "empty choices in completion response"}
	}
	return &Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream opens a streaming completion. Retries cover stream establishment
// only; once tokens flow, a failure ends the stream with an error chunk.
func (b *OpenAIBackend) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq := b.buildRequest(req, true)

	stream, err := retry.DoWithValue(ctx, b.retryCfg, func(ctx context.Context) (*openai.ChatCompletionStream, error) {
		stream, err := b.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			b.logger.Warn("stream open failed", "error", err)
			return nil, classify(err)
		}
		return stream, nil
	})
	if err != nil {
		return nil, asUpstream(err)
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var usage Usage
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					chunks <- Chunk{Done: true, Usage: usage}
					return
				}
				chunks <- Chunk{Done: true, Err: asUpstream(classifyFinal(err))}
				return
			}
			if resp.Usage != nil {
				usage = Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				select {
				case chunks <- Chunk{Text: text}:
				case <-ctx.Done():
					chunks <- Chunk{Done: true, Err: ctx.Err()}
					return
				}
			}
		}
	}()
	return chunks, nil
}

// classify wraps upstream failures for the retry loop: timeouts, 429 and
// 5xx are transient, other HTTP statuses are permanent, transport errors
// stay retryable.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}
	return err
}

func classifyStatus(status int, message string) error {
	upstream := &UpstreamError{Status: status, Message: message}
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return upstream
	default:
		return retry.Permanent(upstream)
	}
}

// classifyFinal is classify without the retry marker, for errors observed
// after retries no longer apply.
func classifyFinal(err error) error {
	classified := classify(err)
	var permanent *retry.PermanentError
	if errors.As(classified, &permanent) {
		return permanent.Err
	}
	return classified
}

// asUpstream normalizes any residual error into *UpstreamError, leaving
// context errors intact so cancellation maps to its own taxonomy kind.
func asUpstream(err error) error {
	if err == nil {
		return nil
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UpstreamError{Message: err.Error()}
}
