// Package logsanitize provides helpers for making untrusted values and
// secrets safe to log.
package logsanitize

import (
	"strconv"
	"strings"
)

// visibleTokenChars is how many leading characters MaskToken keeps.
const visibleTokenChars = 6

// Sanitize removes control characters from log field values to reduce
// the risk of log injection (CWE-117).
//
// Stripped ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
}

// MaskToken returns a loggable stand-in for a bearer token: a short
// sanitized prefix and the total length, never the full value.
func MaskToken(token string) string {
	if token == "" {
		return "[EMPTY]"
	}
	if len(token) <= 2*visibleTokenChars {
		return "[REDACTED]"
	}
	return Sanitize(token[:visibleTokenChars]) + "...(" + strconv.Itoa(len(token)) + " chars)"
}

