// Package object provides the value types shared by the write pipeline:
// JSON-shaped object maps, field operations, ACLs, and storage filters.
// This package has NO dependencies on I/O or external packages.
package object

import (
	"reflect"
	"time"
)

// Map is a JSON-shaped object: field name to value. A value may be a
// literal or a field operation marker (see DeleteOp).
type Map = map[string]any

// DeleteOp is the field operation marker requesting removal of a field.
// Decoders translate the wire shape {"__op": "Delete"} into this value so
// pipeline logic can switch on it exhaustively.
type DeleteOp struct{}

// IsDelete reports whether v is a field-deletion marker, in either its
// decoded or wire form.
func IsDelete(v any) bool {
	switch op := v.(type) {
	case DeleteOp, *DeleteOp:
		return true
	case map[string]any:
		return op["__op"] == "Delete"
	}
	return false
}

// IsUnset reports whether a value counts as "not provided" for default
// substitution: nil, empty string, or a deletion marker.
func IsUnset(v any) bool {
	if v == nil || v == "" {
		return true
	}
	return IsDelete(v)
}

// Clone returns a shallow copy of m. Nested values are shared.
func Clone(m Map) Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports deep equality of two field values.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// FormatDate encodes a timestamp the way it is persisted and returned to
// clients: UTC, RFC 3339 with millisecond precision.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseDate decodes a persisted timestamp. Returns the zero time on failure.
func ParseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Get traverses a dotted field path ("authData.facebook.id") through nested
// maps. The second return is false when any segment is missing.
func Get(m Map, path string) (any, bool) {
	cur := any(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			seg := path[start:i]
			node, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = node[seg]
			if !ok {
				return nil, false
			}
			start = i + 1
		}
	}
	return cur, true
}

// String extracts a string field from m, returning "" when absent or not a
// string.
func String(m Map, field string) string {
	s, _ := m[field].(string)
	return s
}
