package alerting

import (
	"encoding/json"
	"strconv"
	"strings"
)

// property is a lifecycle event property normalised for comparison.
// Counts and durations are published as int or int64 and arrive as
// float64 or json.Number once an event has passed through JSON.
type property struct {
	text    string
	number  float64
	numeric bool
}

func propertyOf(v any) property {
	switch n := v.(type) {
	case int:
		return property{text: strconv.Itoa(n), number: float64(n), numeric: true}
	case int64:
		return property{text: strconv.FormatInt(n, 10), number: float64(n), numeric: true}
	case float64:
		return property{text: strconv.FormatFloat(n, 'f', -1, 64), number: n, numeric: true}
	case json.Number:
		f, err := n.Float64()
		return property{text: n.String(), number: f, numeric: err == nil}
	case string:
		return property{text: n}
	case error:
		return property{text: n.Error()}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return property{}
		}
		return property{text: string(b)}
	}
}

type comparator func(p property, want string) bool

func numeric(cmp func(got, want float64) bool) comparator {
	return func(p property, want string) bool {
		if !p.numeric {
			return false
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(want), 64)
		if err != nil {
			return false
		}
		return cmp(p.number, threshold)
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

var comparators = map[string]comparator{
	OperatorIs:             func(p property, want string) bool { return strings.EqualFold(p.text, want) },
	OperatorIsNot:          func(p property, want string) bool { return !strings.EqualFold(p.text, want) },
	OperatorContains:       func(p property, want string) bool { return containsFold(p.text, want) },
	OperatorNotContains:    func(p property, want string) bool { return !containsFold(p.text, want) },
	OperatorGreaterThan:    numeric(func(got, want float64) bool { return got > want }),
	OperatorLessThan:       numeric(func(got, want float64) bool { return got < want }),
	OperatorGreaterOrEqual: numeric(func(got, want float64) bool { return got >= want }),
	OperatorLessOrEqual:    numeric(func(got, want float64) bool { return got <= want }),
}

// EvaluateConditions reports whether properties satisfy every condition.
// A condition on a missing property or with an unknown operator never
// matches.
func EvaluateConditions(conditions []Condition, properties map[string]any) bool {
	for _, cond := range conditions {
		cmp, ok := comparators[cond.Operator]
		if !ok {
			return false
		}
		v, ok := properties[cond.Property]
		if !ok || !cmp(propertyOf(v), cond.Value) {
			return false
		}
	}
	return true
}
