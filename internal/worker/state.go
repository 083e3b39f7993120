package worker

import "fmt"

// State is a step in one Execute call.
type State int

const (
	StateIdle State = iota
	StateRunningAI
	// StateRunningTool is the plain Pandoc path for requests without AI.
	StateRunningTool
	// StateRunningFallback is entered only after the AI path failed.
	StateRunningFallback
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunningAI:
		return "running_ai"
	case StateRunningTool:
		return "running_tool"
	case StateRunningFallback:
		return "running_fallback"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:            {StateRunningAI, StateRunningTool, StateCancelled},
	StateRunningAI:       {StateSucceeded, StateRunningFallback, StateCancelled},
	StateRunningTool:     {StateSucceeded, StateFailed, StateCancelled},
	StateRunningFallback: {StateSucceeded, StateFailed, StateCancelled},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
