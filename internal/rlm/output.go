package rlm

import (
	"strings"
	"unicode/utf8"
)

// intentMarker opens a tool intent. It counts anywhere in the generator
// output, not just at line start: visible text always ends before the
// first occurrence.
const intentMarker = "TOOL_INTENT:"

// Output is a parsed generator turn.
type Output struct {
	Text   string
	Intent string // empty when the turn is terminal
}

// HasIntent reports whether the generator asked for a tool.
func (o Output) HasIntent() bool { return o.Intent != "" }

// capIntent bounds the intent to maxBytes, backing off to a rune boundary.
func capIntent(intent string, maxBytes int) string {
	if maxBytes <= 0 || len(intent) <= maxBytes {
		return intent
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(intent[cut]) {
		cut--
	}
	return intent[:cut]
}

// ParseOutput splits a complete generator output into user-visible text and
// the tool intent. Visible text is everything before the first marker
// occurrence, trailing whitespace stripped. The intent is the rest of the
// line after the last occurrence; any other text past the first marker is
// discarded.
func ParseOutput(raw string, maxIntentBytes int) Output {
	first := strings.Index(raw, intentMarker)
	if first < 0 {
		return Output{Text: raw}
	}
	rest := raw[strings.LastIndex(raw, intentMarker)+len(intentMarker):]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return Output{
		Text:   strings.TrimRight(raw[:first], " \t\n"),
		Intent: capIntent(strings.TrimSpace(rest), maxIntentBytes),
	}
}
