// Package models provides domain types for the RANTS gateway.
package models

import "time"

// SessionStatus is the lifecycle state of a recursive session.
type SessionStatus string

const (
	// SessionRunning means the orchestrator loop is in progress.
	SessionRunning SessionStatus = "running"

	// SessionCompleted means the loop terminated normally.
	SessionCompleted SessionStatus = "completed"

	// SessionFailed means the loop terminated with an error or deadline.
	SessionFailed SessionStatus = "failed"

	// SessionCancelled means the client disconnected mid-session.
	SessionCancelled SessionStatus = "cancelled"
)

// RecursiveSession is the unit of orchestration. A root session is created
// per inbound request; the task tool creates children with depth+1.
//
// Children reference their parent by id only; the store resolves the parent
// on lookup so a subtree never retains its ancestors in memory.
type RecursiveSession struct {
	ID         string        `json:"session_id"`
	ParentID   string        `json:"parent_id,omitempty"`
	TenantID   string        `json:"tenant_id"`
	Depth      int           `json:"depth"`
	CreatedAt  time.Time     `json:"created_at"`
	DeadlineAt time.Time     `json:"deadline_at"`
	Status     SessionStatus `json:"status"`
}

// Terminal reports whether the session can no longer be mutated.
func (s *RecursiveSession) Terminal() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// Remaining returns the wallclock budget left before the session deadline.
func (s *RecursiveSession) Remaining(now time.Time) time.Duration {
	return s.DeadlineAt.Sub(now)
}
