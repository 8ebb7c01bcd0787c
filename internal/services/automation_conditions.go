package services

import (
	"encoding/json"
	"reflect"

	"opsdesk/internal/models"
)

// MatchConditions reports whether payload satisfies a rule's condition set.
//
// A nil or empty set always matches. Otherwise every key must be present in
// the payload with an equal value. Only conjunctions of equality checks are
// supported: there are no comparison operators, no OR and no nested paths.
func MatchConditions(conditions, payload models.Document) bool {
	for key, want := range conditions {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares by value. Numbers are compared as float64 so a rule
// decoded from JSON matches a payload built in Go with ints.
func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case models.Document:
		return normalizeValue(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
