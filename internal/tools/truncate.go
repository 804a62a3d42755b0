package tools

import "unicode/utf8"

// truncationMarker is appended to capped output so the generator can see
// the result is partial.
const truncationMarker = "\n[output truncated]"

// CapBytes enforces the tool output byte limit. Output exactly at the cap
// passes untouched; anything longer is cut at the cap (backing off to a
// rune boundary), the marker is appended, and the number of dropped bytes
// is returned.
func CapBytes(s string, maxBytes int) (string, int) {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s, 0
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker, len(s) - cut
}
