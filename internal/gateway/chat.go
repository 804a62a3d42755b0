package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rants/internal/orchestrator"
	"github.com/haasonsaas/rants/pkg/models"
)

// handleChatCompletions serves the compatibility shim. Chat completions
// are stateless: the message array is reconstructed into a transcript per
// turn and nothing is persisted. When the client declares tools, the loop
// stops after one generation plus compilation and the compiled calls go
// back as tool_calls; without tools the full loop runs against the
// built-in sandboxed registry.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, string(models.ErrKindBadRequest), "method not allowed")
		return
	}

	var req models.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Model != s.cfg.RLM.RantsOne.Name {
		badRequest(w, "unknown model: "+req.Model)
		return
	}
	if len(req.Messages) == 0 {
		badRequest(w, "messages are required")
		return
	}

	system, input, history, err := reconstructTranscript(req.Messages)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(input) == "" {
		badRequest(w, "a user message is required")
		return
	}

	run := orchestrator.RunRequest{
		TenantID:     tenantFrom(r.Context()),
		Model:        req.Model,
		System:       system,
		Input:        input,
		ToolChoice:   normalizeToolChoice(req.ToolChoice),
		Stream:       req.Stream,
		ExecuteTools: len(req.Tools) == 0,
		Persist:      false,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		History:      history,
	}

	if req.Stream {
		s.streamChat(w, r, run)
		return
	}

	result, err := s.orch.Run(r.Context(), run, nil)
	if err != nil {
		writeSessionError(w, orchestrator.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, chatCompletionFrom(run.Model, result))
}

func chatCompletionFrom(model string, result *orchestrator.RunResult) models.ChatCompletion {
	message := models.ChatResponseMessage{
		Role:    "assistant",
		Content: result.Response.Text(),
	}
	finish := "stop"
	if calls := pendingCalls(result.LastStep); len(calls) > 0 {
		message.ToolCalls = calls
		finish = "tool_calls"
	}
	return models.ChatCompletion{
		ID:      "chatcmpl-" + uuid.NewString()[:12],
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []models.ChatChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finish,
		}},
		Usage: result.Response.Usage,
	}
}

// pendingCalls returns the final step's compiled calls when they were left
// unexecuted for the client, in OpenAI form.
func pendingCalls(step *models.Step) []models.ChatToolCall {
	if step == nil || len(step.ToolCalls) == 0 || len(step.ToolResults) != 0 {
		return nil
	}
	calls := make([]models.ChatToolCall, len(step.ToolCalls))
	for i, call := range step.ToolCalls {
		calls[i] = models.ChatToolCall{
			ID:   "call_" + call.ID,
			Type: "function",
			Function: models.ChatFunctionCall{
				Name:      call.Tool,
				Arguments: string(call.Parameters),
			},
		}
	}
	return calls
}

// streamChat emits chat.completion.chunk frames and the [DONE] marker.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, run orchestrator.RunRequest) {
	sse := newSSEWriter(w)
	id := "chatcmpl-" + uuid.NewString()[:12]
	created := time.Now().Unix()

	chunk := func(delta models.ChatDelta, finish *string) {
		payload, err := json.Marshal(models.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   run.Model,
			Choices: []models.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		})
		if err != nil {
			return
		}
		sse.sendRaw(payload)
	}

	first := true
	result, err := s.orch.Run(r.Context(), run, func(e orchestrator.Event) {
		if e.Type != orchestrator.EventTextDelta {
			return
		}
		delta := models.ChatDelta{Content: e.Delta}
		if first {
			delta.Role = "assistant"
			first = false
		}
		chunk(delta, nil)
	})
	if err != nil {
		if !sse.started() {
			writeSessionError(w, orchestrator.Classify(err))
			return
		}
		sessionErr := orchestrator.Classify(err)
		payload, _ := json.Marshal(errorBody{Error: errorDetail{
			Message: sessionErr.Message,
			Type:    errorType(statusFor(sessionErr.Kind)),
			Code:    string(sessionErr.Kind),
		}})
		sse.sendRaw(payload)
		sse.sendRaw([]byte("[DONE]"))
		return
	}

	finish := "stop"
	if calls := pendingCalls(result.LastStep); len(calls) > 0 {
		chunk(models.ChatDelta{ToolCalls: calls}, nil)
		finish = "tool_calls"
	}
	chunk(models.ChatDelta{}, &finish)
	sse.sendRaw([]byte("[DONE]"))
}

// reconstructTranscript folds a chat message array into transcript form:
// system messages join into the system prompt, user messages into the
// input, and assistant/tool pairs into prior steps. Assistant tool calls
// without a matching tool message are dropped so every reconstructed step
// keeps calls and results aligned.
func reconstructTranscript(messages []models.ChatMessage) (system, input string, history []models.Step, err error) {
	var systems, inputs []string

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case "system", "developer":
			content, contentErr := normalizeContent(msg.Content)
			if contentErr != nil {
				return "", "", nil, contentErr
			}
			systems = append(systems, content)

		case "user":
			content, contentErr := normalizeContent(msg.Content)
			if contentErr != nil {
				return "", "", nil, contentErr
			}
			inputs = append(inputs, content)

		case "assistant":
			content := ""
			if len(msg.Content) > 0 {
				text, contentErr := normalizeContent(msg.Content)
				if contentErr != nil {
					return "", "", nil, contentErr
				}
				content = text
			}
			step := models.Step{
				GeneratorOutput: content,
				ToolCalls:       []models.ToolCall{},
				ToolResults:     []models.ToolResult{},
			}

			// Collect the tool messages answering this assistant turn.
			results := map[string]string{}
			for i+1 < len(messages) && messages[i+1].Role == "tool" {
				i++
				output, contentErr := normalizeContent(messages[i].Content)
				if contentErr != nil {
					return "", "", nil, contentErr
				}
				results[messages[i].ToolCallID] = output
			}
			for _, call := range msg.ToolCalls {
				output, ok := results[call.ID]
				if !ok {
					continue
				}
				callID := strings.TrimPrefix(call.ID, "call_")
				step.ToolCalls = append(step.ToolCalls, models.ToolCall{
					ID:         callID,
					Tool:       call.Function.Name,
					Parameters: json.RawMessage(call.Function.Arguments),
				})
				step.ToolResults = append(step.ToolResults, models.ToolResult{
					CallID: callID,
					OK:     true,
					Output: output,
				})
			}
			history = append(history, step)

		case "tool":
			// A tool message with no preceding assistant turn has nothing
			// to attach to.
			return "", "", nil, errOrphanToolMessage

		default:
			return "", "", nil, errInvalidInput
		}
	}
	return strings.Join(systems, "\n"), strings.Join(inputs, "\n"), history, nil
}

var errOrphanToolMessage = &toolMessageError{}

type toolMessageError struct{}

func (e *toolMessageError) Error() string {
	return "tool message without a preceding assistant tool call"
}
