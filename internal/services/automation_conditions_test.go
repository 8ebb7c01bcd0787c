package services

import (
	"encoding/json"
	"testing"

	"opsdesk/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestMatchConditions(t *testing.T) {
	tests := []struct {
		name       string
		conditions models.Document
		payload    models.Document
		want       bool
	}{
		{"nil conditions", nil, models.Document{"a": 1}, true},
		{"empty conditions", models.Document{}, nil, true},
		{"single equal", models.Document{"role": "EMPLOYEE"}, models.Document{"role": "EMPLOYEE", "x": 1}, true},
		{"case sensitive", models.Document{"role": "employee"}, models.Document{"role": "EMPLOYEE"}, false},
		{"missing key", models.Document{"role": "EMPLOYEE"}, models.Document{}, false},
		{"all keys must match", models.Document{"a": "1", "b": "2"}, models.Document{"a": "1", "b": "3"}, false},
		{"number from json vs int", models.Document{"n": float64(3)}, models.Document{"n": 3}, true},
		{"json.Number", models.Document{"n": json.Number("3")}, models.Document{"n": int64(3)}, true},
		{"string is not number", models.Document{"n": "3"}, models.Document{"n": 3}, false},
		{"bool", models.Document{"ok": true}, models.Document{"ok": true}, true},
		{"null matches null", models.Document{"v": nil}, models.Document{"v": nil}, true},
		{"null vs missing", models.Document{"v": nil}, models.Document{}, false},
		{"nested deep equality", models.Document{"tags": []interface{}{"a", float64(1)}}, models.Document{"tags": []interface{}{"a", 1}}, true},
		{"nested map", models.Document{"m": map[string]interface{}{"k": float64(1)}}, models.Document{"m": models.Document{"k": 1}}, true},
		{"string slice", models.Document{"tags": []interface{}{"a", "b"}}, models.Document{"tags": []string{"a", "b"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchConditions(tt.conditions, tt.payload))
		})
	}
}
