package logutil

import (
	"strings"
	"unicode/utf8"
)

// SanitizeForLog flattens container- and client-supplied strings onto one log
// line. Newlines and tabs become spaces and other control characters are
// dropped, so a value cannot forge additional log entries.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32 || r == 127:
			return -1
		}
		return r
	}, s)
}

// Truncate shortens s to at most max bytes without splitting a UTF-8
// sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
