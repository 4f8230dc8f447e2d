package common

import (
	"strconv"
	"strings"
)

// GetAtPath walks a dot path ("a.b.c") into decoded JSON values (maps,
// slices, scalars). Numeric segments index into slices. The second return
// reports whether every segment resolved.
func GetAtPath(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}

	current := value
	for _, segment := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Truthy reports whether a decoded JSON value is truthy: non-empty strings,
// non-zero numbers, true booleans, non-empty maps/slices and any other
// non-nil value count as true.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}
