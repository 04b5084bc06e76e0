// Package alerting turns offline cache lifecycle events into user-facing
// alerts according to configurable rules.
package alerting

// Condition operators define how property values are compared.
const (
	OperatorIs             = "is"
	OperatorIsNot          = "is_not"
	OperatorContains       = "contains"
	OperatorNotContains    = "not_contains"
	OperatorGreaterThan    = "greater_than"
	OperatorLessThan       = "less_than"
	OperatorGreaterOrEqual = "greater_or_equal"
	OperatorLessOrEqual    = "less_or_equal"
)

// ValidOperator reports whether op is a known condition operator.
func ValidOperator(op string) bool {
	_, ok := comparators[op]
	return ok
}
