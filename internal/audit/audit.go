// Package audit records tool executions to the append-only audit table.
package audit

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/rants/internal/store"
	"github.com/haasonsaas/rants/pkg/models"
)

// Recorder writes audit events through the transcript store. A failed write
// is logged but never interrupts the session: auditing is an observer, not
// a participant.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(st *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: st, logger: logger.With("component", "audit")}
}

// ToolExecution records one tool call outcome.
func (r *Recorder) ToolExecution(ctx context.Context, event models.AuditEvent) {
	if err := r.store.RecordAudit(ctx, event); err != nil {
		r.logger.Error("audit write failed",
			"session_id", event.SessionID,
			"call_id", event.CallID,
			"tool", event.Tool,
			"error", err)
	}
}
