// Package utils holds small helpers shared across nutrirag packages: logging, vector
// math, Redis URLs and text.
package utils

// Truncate shortens s to at most maxRunes runes and appends "..." when it cut anything.
// A non-positive maxRunes leaves s unchanged.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
