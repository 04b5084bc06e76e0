package offline

import "github.com/liftmate/liftmate/internal/errors"

// State is a worker lifecycle state.
type State int

// Worker states, in lifecycle order.
const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

var stateNames = [...]string{
	StateParsed:     "parsed",
	StateInstalling: "installing",
	StateInstalled:  "installed",
	StateActivating: "activating",
	StateActivated:  "activated",
	StateRedundant:  "redundant",
}

// String returns the lower-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name, so states appear as strings in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return errors.Newf("unknown worker state %q", text).
		Component("offline").
		Category(errors.CategoryValidation).
		Build()
}

// transitions lists the legal next states for each state. Installed may
// re-enter installing so an unchanged version can be installed again.
var transitions = map[State][]State{
	StateParsed:     {StateInstalling, StateRedundant},
	StateInstalling: {StateInstalled, StateRedundant},
	StateInstalled:  {StateInstalling, StateActivating, StateRedundant},
	StateActivating: {StateActivated, StateRedundant},
	StateActivated:  {StateRedundant},
	StateRedundant:  nil,
}

// canTransition reports whether from → to is a legal transition.
func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
