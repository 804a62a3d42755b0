package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/haasonsaas/rants/internal/orchestrator"
	"github.com/haasonsaas/rants/pkg/models"
)

// handleResponses serves the native endpoint, streamed or not.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, string(models.ErrKindBadRequest), "method not allowed")
		return
	}

	var req models.ResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Model != s.cfg.RLM.RantsOne.Name {
		badRequest(w, "unknown model: "+req.Model)
		return
	}

	system, input, err := normalizeInput(req.Input)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(input) == "" {
		badRequest(w, "input is required")
		return
	}

	run := orchestrator.RunRequest{
		TenantID:           tenantFrom(r.Context()),
		Model:              req.Model,
		System:             system,
		Input:              input,
		ToolChoice:         normalizeToolChoice(req.ToolChoice),
		PreviousResponseID: req.PreviousResponseID,
		Stream:             req.Stream,
		ExecuteTools:       true,
		Persist:            true,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxOutputTokens,
	}

	if req.Stream {
		s.streamResponse(w, r, run)
		return
	}

	result, err := s.orch.Run(r.Context(), run, nil)
	if err != nil {
		writeSessionError(w, orchestrator.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, result.Response)
}

// streamResponse runs the session with an SSE sink. Headers are not sent
// until the first event, so pre-session failures still get a JSON error.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, run orchestrator.RunRequest) {
	sse := newSSEWriter(w)
	var current *models.ResponseObject

	_, err := s.orch.Run(r.Context(), run, func(e orchestrator.Event) {
		switch e.Type {
		case orchestrator.EventSessionStarted:
			current = e.Response
			sse.send("response.created", models.ResponseEvent{
				Type:     "response.created",
				Response: e.Response,
			})
		case orchestrator.EventTextDelta:
			sse.send("response.output_text.delta", models.ResponseEvent{
				Type:         "response.output_text.delta",
				ItemID:       outputItemID(current),
				OutputIndex:  intPtr(0),
				ContentIndex: intPtr(0),
				Delta:        e.Delta,
			})
		case orchestrator.EventTextDone:
			sse.send("response.output_text.done", models.ResponseEvent{
				Type:         "response.output_text.done",
				ItemID:       outputItemID(current),
				OutputIndex:  intPtr(0),
				ContentIndex: intPtr(0),
				Text:         e.Text,
			})
		case orchestrator.EventCompleted:
			sse.send("response.completed", models.ResponseEvent{
				Type:     "response.completed",
				Response: e.Response,
			})
		case orchestrator.EventFailed:
			sessionErr := orchestrator.Classify(e.Err)
			if current != nil {
				current.Status = models.ResponseFailed
				current.Error = &models.ResponseError{
					Code:    string(sessionErr.Kind),
					Message: sessionErr.Message,
					Type:    errorType(statusFor(sessionErr.Kind)),
				}
			}
			sse.send("response.failed", models.ResponseEvent{
				Type:     "response.failed",
				Response: current,
				Error: &models.ResponseError{
					Code:    string(sessionErr.Kind),
					Message: sessionErr.Message,
					Type:    errorType(statusFor(sessionErr.Kind)),
				},
			})
		}
	})
	if err != nil && !sse.started() {
		writeSessionError(w, orchestrator.Classify(err))
	}
}

func outputItemID(resp *models.ResponseObject) string {
	if resp == nil || len(resp.Output) == 0 {
		return ""
	}
	return resp.Output[0].ID
}

func intPtr(v int) *int { return &v }

// normalizeInput accepts either a plain string or an array of role/content
// messages. System and developer messages fold into the system prompt; user
// messages join into the input.
func normalizeInput(raw json.RawMessage) (system, input string, err error) {
	if len(raw) == 0 {
		return "", "", nil
	}

	var text string
	if jsonErr := json.Unmarshal(raw, &text); jsonErr == nil {
		return "", text, nil
	}

	var messages []models.InputMessage
	if jsonErr := json.Unmarshal(raw, &messages); jsonErr != nil {
		return "", "", errInvalidInput
	}

	var systems, inputs []string
	for _, msg := range messages {
		content, contentErr := normalizeContent(msg.Content)
		if contentErr != nil {
			return "", "", contentErr
		}
		switch msg.Role {
		case "system", "developer":
			systems = append(systems, content)
		case "user":
			inputs = append(inputs, content)
		default:
			return "", "", errInvalidInput
		}
	}
	return strings.Join(systems, "\n"), strings.Join(inputs, "\n"), nil
}

// normalizeContent accepts a plain string or an array of typed text parts.
func normalizeContent(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", errInvalidInput
	}
	var out []string
	for _, part := range parts {
		switch part.Type {
		case "input_text", "text", "output_text":
			out = append(out, part.Text)
		default:
			return "", errInvalidInput
		}
	}
	return strings.Join(out, "\n"), nil
}

// normalizeToolChoice reduces the OpenAI tool_choice forms to the hint
// string the generator prompt carries.
func normalizeToolChoice(choice any) string {
	switch v := choice.(type) {
	case string:
		return v
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				return name
			}
		}
	}
	return ""
}

var errInvalidInput = &inputError{}

type inputError struct{}

func (e *inputError) Error() string {
	return "input must be a string or an array of role/content messages"
}
