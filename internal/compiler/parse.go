package compiler

import (
	"encoding/json"
	"fmt"
	"strings"
)

type compiledPayload struct {
	ToolCalls []CompiledCall `json:"tool_calls"`
}

// ParseToolCalls tolerantly extracts the tool_calls object from raw
// compiler output. It accepts the raw body, the contents of a single code
// fence, or the first balanced JSON object.
func ParseToolCalls(raw string) ([]CompiledCall, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty compiler output")
	}

	candidates := []string{text}
	if fenced, ok := stripFence(text); ok {
		candidates = append(candidates, fenced)
	}
	if balanced, ok := firstBalancedObject(text); ok {
		candidates = append(candidates, balanced)
	}

	var lastErr error
	for _, candidate := range candidates {
		var payload compiledPayload
		decoder := json.NewDecoder(strings.NewReader(candidate))
		if err := decoder.Decode(&payload); err != nil {
			lastErr = err
			continue
		}
		if payload.ToolCalls == nil {
			lastErr = fmt.Errorf("missing tool_calls array")
			continue
		}
		return payload.ToolCalls, nil
	}
	return nil, fmt.Errorf("unparseable tool_calls payload: %v", lastErr)
}

// stripFence returns the contents of a single top-level code fence.
func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return "", false
	}
	rest := text[3:]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[idx+1:] // drop the language tag line
	}
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// firstBalancedObject scans for the first brace-balanced JSON object,
// honoring string literals and escapes.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
