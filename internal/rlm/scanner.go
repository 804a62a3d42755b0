package rlm

import "strings"

// IntentScanner incrementally filters a generator token stream so a client
// never observes the intent marker. Emission agrees byte for byte with
// ParseOutput: everything before the first marker occurrence is released,
// trailing whitespace ahead of the marker is dropped, and everything after
// the marker is suppressed. The scanner holds back only a trailing
// whitespace run plus a partial marker prefix, so retention is bounded by
// the longest whitespace run in the stream plus len(marker)-1 bytes.
type IntentScanner struct {
	maxIntent int
	buf       string // visible bytes not yet safe to release
	line      string // current suppressed line, bounded
	suppress  bool
	dropLine  bool // current suppressed line overflowed; skip to newline
	firstLine bool // suppressed line is the remainder of the marker's own line
	intent    string
	done      bool
}

// NewIntentScanner creates a scanner with the configured intent byte cap.
func NewIntentScanner(maxIntentLineBytes int) *IntentScanner {
	if maxIntentLineBytes <= 0 {
		maxIntentLineBytes = 512
	}
	return &IntentScanner{maxIntent: maxIntentLineBytes}
}

// Feed consumes the next stream chunk and returns the bytes now safe to
// emit to the client.
func (s *IntentScanner) Feed(chunk string) string {
	if s.done {
		return ""
	}
	if s.suppress {
		s.consumeSuppressed(chunk)
		return ""
	}
	s.buf += chunk
	if idx := strings.Index(s.buf, intentMarker); idx >= 0 {
		out := strings.TrimRight(s.buf[:idx], " \t\n")
		rest := s.buf[idx+len(intentMarker):]
		s.buf = ""
		s.suppress = true
		s.firstLine = true
		s.consumeSuppressed(rest)
		return out
	}
	cut := len(s.buf) - holdLen(s.buf)
	out := s.buf[:cut]
	s.buf = s.buf[cut:]
	return out
}

// Finish flushes the scanner at end of stream and returns any remaining
// visible bytes.
func (s *IntentScanner) Finish() string {
	if s.done {
		return ""
	}
	s.done = true
	if s.suppress {
		if !s.dropLine && (s.line != "" || s.firstLine) {
			s.captureLine(s.line)
		}
		return ""
	}
	out := s.buf
	s.buf = ""
	return out
}

// Intent returns the captured intent, valid after Finish. ParseOutput over
// the full raw output remains the authority; this is advisory.
func (s *IntentScanner) Intent() string { return s.intent }

// consumeSuppressed scans hidden bytes line by line so a later marker can
// still take over the intent.
func (s *IntentScanner) consumeSuppressed(chunk string) {
	for chunk != "" {
		idx := strings.IndexByte(chunk, '\n')
		if idx < 0 {
			s.growLine(chunk)
			return
		}
		s.growLine(chunk[:idx])
		if !s.dropLine {
			s.captureLine(s.line)
		}
		s.line = ""
		s.dropLine = false
		s.firstLine = false
		chunk = chunk[idx+1:]
	}
}

func (s *IntentScanner) growLine(part string) {
	if s.dropLine {
		return
	}
	s.line += part
	if limit := s.maxIntent + len(intentMarker); len(s.line) > limit {
		s.captureLine(s.line[:limit])
		s.dropLine = true
		s.line = ""
	}
}

// captureLine updates the intent from one suppressed line. The last marker
// occurrence wins; a line without a marker only counts when it is the
// remainder of the line the first marker appeared on.
func (s *IntentScanner) captureLine(line string) {
	if j := strings.LastIndex(line, intentMarker); j >= 0 {
		s.intent = capIntent(strings.TrimSpace(line[j+len(intentMarker):]), s.maxIntent)
		return
	}
	if s.firstLine {
		s.intent = capIntent(strings.TrimSpace(line), s.maxIntent)
	}
}

// holdLen is the length of the shortest suffix that cannot be released yet:
// a trailing whitespace run followed by a partial marker prefix could still
// complete into a marker that erases both.
func holdLen(buf string) int {
	p := len(buf)
	for k := len(intentMarker) - 1; k > 0; k-- {
		if strings.HasSuffix(buf, intentMarker[:k]) {
			p = len(buf) - k
			break
		}
	}
	for p > 0 && (buf[p-1] == ' ' || buf[p-1] == '\t' || buf[p-1] == '\n') {
		p--
	}
	return len(buf) - p
}
