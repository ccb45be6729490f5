package gateway

import (
	"math"
	"strconv"
	"strings"
)

// truncationMarker is appended when free text is clamped so the cut is
// visible downstream instead of silent.
const truncationMarker = " ...[truncated]"

// clampText trims s and truncates it to maxChars runes, reserving room for
// the truncation marker.
func clampText(s string, maxChars int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	keep := maxChars - 16
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + truncationMarker
}

// stringify renders an untyped JSON value as a string the way loose
// provider output is coerced: strings pass through, numbers and booleans
// are formatted, everything else becomes empty.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// asFloat extracts a finite number from an untyped JSON value. Numeric
// strings are parsed; anything else reports false.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asBool applies loose truthiness to an untyped JSON value.
func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	default:
		return false
	}
}

// stringSlice coerces a JSON array's elements to strings, capped at max.
func stringSlice(items []any, max int) []string {
	if len(items) > max {
		items = items[:max]
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, stringify(it))
	}
	return out
}
