package alerting

import "time"

// Condition compares one event property against a value.
type Condition struct {
	Property string
	Operator string
	Value    string
}

// Rule fires when an event of kind Event satisfies every condition.
type Rule struct {
	Name       string
	Event      string
	Conditions []Condition
	// Title and Message are templates; see renderTemplate.
	Title   string
	Message string
	// Cooldown suppresses repeated firing; zero fires on every match.
	Cooldown time.Duration
}
