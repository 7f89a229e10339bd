package session

import "fmt"

// State represents the lifecycle state of a voice call session
type State int

const (
	// StateConnecting is the initial state while the call is being answered
	StateConnecting State = iota
	// StateListening is while a recognize operation gathers caller input
	StateListening
	// StateDispatching is while an utterance is being turned into a reply
	StateDispatching
	// StateClosing is while the goodbye prompt plays
	StateClosing
	// StateTerminated is the final state after hang-up
	StateTerminated
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateListening:
		return "Listening"
	case StateDispatching:
		return "Dispatching"
	case StateClosing:
		return "Closing"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[State][]State{
	StateConnecting:  {StateListening, StateTerminated},
	StateListening:   {StateListening, StateDispatching, StateClosing, StateTerminated},
	StateDispatching: {StateListening, StateClosing, StateTerminated},
	StateClosing:     {StateTerminated},
	StateTerminated:  {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if a transition from current state to next state is valid
func (s State) CanTransitionTo(next State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s State) IsTerminal() bool {
	return s == StateTerminated
}
