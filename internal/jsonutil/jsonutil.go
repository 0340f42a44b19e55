// Package jsonutil extracts typed values from loosely-typed wire records
// (map[string]any as produced by a JSON decoder, or built by hand in Go).
//
// Every getter reports whether the key held a usable value. A key mapped to
// nil is treated as absent, matching how JSON null is read for optional
// fields.
package jsonutil

import (
	"math"
	"strings"
)

// Lookup returns the value for key and whether it is present and non-nil.
func Lookup(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// GetString extracts a string field. ok is false if the key is absent or
// holds a non-string.
func GetString(m map[string]any, key string) (s string, ok bool) {
	s, ok = m[key].(string)
	return s, ok
}

// AsInt converts a decoded numeric value to int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt || n >= math.MaxInt {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// GetMap extracts a nested object.
func GetMap(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

// ContainsNull reports whether s contains a null byte.
func ContainsNull(s string) bool {
	return strings.ContainsRune(s, '\x00')
}
