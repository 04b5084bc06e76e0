package alerting

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateConditions(t *testing.T) {
	t.Parallel()

	props := map[string]any{
		"namespace":   "liftmate-v1",
		"entries":     12,
		"duration_ms": int64(340),
		"ratio":       0.5,
		"clients":     json.Number("3"),
		"decoded":     float64(12),
		"error":       "manifest fetch failed: 404",
	}

	tests := []struct {
		name       string
		conditions []Condition
		want       bool
	}{
		{"no conditions", nil, true},
		{"is", []Condition{{Property: "namespace", Operator: OperatorIs, Value: "LIFTMATE-V1"}}, true},
		{"is_not", []Condition{{Property: "namespace", Operator: OperatorIsNot, Value: "liftmate-v1"}}, false},
		{"contains", []Condition{{Property: "error", Operator: OperatorContains, Value: "404"}}, true},
		{"not_contains", []Condition{{Property: "error", Operator: OperatorNotContains, Value: "timeout"}}, true},
		{"greater_than int", []Condition{{Property: "entries", Operator: OperatorGreaterThan, Value: "10"}}, true},
		{"less_than int64", []Condition{{Property: "duration_ms", Operator: OperatorLessThan, Value: "300"}}, false},
		{"greater_or_equal", []Condition{{Property: "entries", Operator: OperatorGreaterOrEqual, Value: "12"}}, true},
		{"less_or_equal float", []Condition{{Property: "ratio", Operator: OperatorLessOrEqual, Value: "0.5"}}, true},
		{"numeric on text", []Condition{{Property: "namespace", Operator: OperatorGreaterThan, Value: "1"}}, false},
		{"bad threshold", []Condition{{Property: "entries", Operator: OperatorGreaterThan, Value: "many"}}, false},
		{"missing property", []Condition{{Property: "deleted", Operator: OperatorIs, Value: "1"}}, false},
		{"json number", []Condition{{Property: "clients", Operator: OperatorGreaterOrEqual, Value: "3"}}, true},
		{"float from json compares as integer text", []Condition{{Property: "decoded", Operator: OperatorIs, Value: "12"}}, true},
		{"unknown operator", []Condition{{Property: "entries", Operator: "matches", Value: "12"}}, false},
		{"all must match", []Condition{
			{Property: "entries", Operator: OperatorGreaterThan, Value: "10"},
			{Property: "namespace", Operator: OperatorIs, Value: "liftmate-v2"},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EvaluateConditions(tt.conditions, props))
		})
	}
}

func TestValidOperator(t *testing.T) {
	t.Parallel()
	assert.True(t, ValidOperator(OperatorContains))
	assert.True(t, ValidOperator(OperatorLessOrEqual))
	assert.False(t, ValidOperator("equals"))
}
