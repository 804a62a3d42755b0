package orchestrator

import "github.com/haasonsaas/rants/pkg/models"

// EventType names one internal loop event. The streaming assembler maps
// these onto the two client dialects; tool-phase events never reach a
// client directly.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventTextDelta        EventType = "text_delta"
	EventTextDone         EventType = "text_done"
	EventToolPhaseStarted EventType = "tool_phase_started"
	EventToolPhaseDone    EventType = "tool_phase_done"
	EventCompleted        EventType = "completed"
	EventFailed           EventType = "failed"
)

// Event is one internal loop event.
type Event struct {
	Type     EventType
	Delta    string
	Text     string
	Response *models.ResponseObject
	Err      error
}

// Sink consumes loop events in order, on the session goroutine.
type Sink func(Event)

func discard(Event) {}
