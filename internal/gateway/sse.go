package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/haasonsaas/rants/pkg/models"
)

// sseWriter serializes server-sent events. Headers go out lazily on the
// first event so a session that fails before producing anything can still
// return a plain JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
	open    bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) started() bool { return s.open }

// send emits one named event with a monotonic sequence number.
func (s *sseWriter) send(name string, event models.ResponseEvent) {
	if !s.open {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.open = true
	}

	event.SequenceNumber = s.seq
	s.seq++

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// sendRaw emits a data-only frame, used by the chat shim for its chunk
// stream and the terminating [DONE] marker.
func (s *sseWriter) sendRaw(payload []byte) {
	if !s.open {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.open = true
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
