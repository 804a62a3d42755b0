package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/rants/internal/backend"
	"github.com/haasonsaas/rants/internal/compiler"
	"github.com/haasonsaas/rants/internal/store"
	"github.com/haasonsaas/rants/pkg/models"
)

// SessionError is a terminal session failure carrying its taxonomy kind.
// The HTTP layer maps the kind to a status code.
type SessionError struct {
	Kind    models.ErrorKind
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Classify maps an arbitrary loop error onto the taxonomy. Compiler
// failures become a generic client message; the detail stays in logs and
// audit only.
func Classify(err error) *SessionError {
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr
	}

	var compileErr *compiler.Error
	if errors.As(err, &compileErr) {
		return &SessionError{
			Kind:    models.ErrKindToolCompile,
			Message: "tool compilation failed",
			Err:     err,
		}
	}

	var upstreamErr *backend.UpstreamError
	if errors.As(err, &upstreamErr) {
		return &SessionError{
			Kind:    models.ErrKindUpstream,
			Message: upstreamErr.Error(),
			Err:     err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &SessionError{
			Kind:    models.ErrKindDeadlineExceeded,
			Message: "session wallclock deadline exceeded",
			Err:     err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &SessionError{
			Kind:    models.ErrKindCancelled,
			Message: "session cancelled",
			Err:     err,
		}
	}

	if errors.Is(err, store.ErrNotFound) {
		return &SessionError{
			Kind:    models.ErrKindNotFound,
			Message: "not found",
			Err:     err,
		}
	}

	return &SessionError{
		Kind:    models.ErrKindInternal,
		Message: fmt.Sprintf("internal error: %v", err),
		Err:     err,
	}
}
