package live

import "fmt"

// State is the lifecycle state of a Connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateError
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateActive:     "active",
	StateClosing:    "closing",
	StateClosed:     "closed",
	StateError:      "error",
}

// String returns the lowercase state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// transitions lists every legal state change.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed},
	StateConnecting: {StateActive, StateError, StateClosed},
	StateActive:     {StateClosing, StateClosed, StateError},
	StateClosing:    {StateClosed, StateError},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
