// Package errfmt bounds strings that cross the process boundary in error
// messages: server error text, tool failure details, record values quoted
// back to the caller.
package errfmt

import (
	"unicode"
	"unicode/utf8"
)

// MaxLen caps error content to prevent unbounded propagation.
const MaxLen = 4096

// MaxValueLen caps a single value quoted inside an error message.
const MaxValueLen = 128

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Truncate caps s at MaxLen bytes on a rune boundary.
func Truncate(s string) string {
	return truncateUTF8(s, MaxLen)
}

// Value prepares an untrusted value for quoting in an error message.
// Control characters are replaced with U+FFFD and the result is capped at
// MaxValueLen bytes.
func Value(s string) string {
	clean := true
	for _, r := range s {
		if unicode.IsControl(r) {
			clean = false
			break
		}
	}
	if !clean {
		b := make([]rune, 0, len(s))
		for _, r := range s {
			if unicode.IsControl(r) {
				r = utf8.RuneError
			}
			b = append(b, r)
		}
		s = string(b)
	}
	return truncateUTF8(s, MaxValueLen)
}
