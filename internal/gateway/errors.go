package gateway

import (
	"net/http"

	"github.com/haasonsaas/rants/internal/orchestrator"
	"github.com/haasonsaas/rants/pkg/models"
)

// statusFor maps the error taxonomy onto HTTP status codes. Tool-level
// kinds never reach this path; they surface inside tool results.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindBadRequest:
		return http.StatusBadRequest
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindRateLimited:
		return http.StatusTooManyRequests
	case models.ErrKindUpstream, models.ErrKindToolCompile:
		return http.StatusBadGateway
	case models.ErrKindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorType follows the OpenAI error envelope convention.
func errorType(status int) string {
	if status >= 400 && status < 500 {
		return "invalid_request_error"
	}
	return "api_error"
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{
		Message: message,
		Type:    errorType(status),
		Code:    code,
	}})
}

// writeSessionError renders a terminal session failure as a JSON error.
func writeSessionError(w http.ResponseWriter, err *orchestrator.SessionError) {
	writeError(w, statusFor(err.Kind), string(err.Kind), err.Message)
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, string(models.ErrKindBadRequest), message)
}
