package engine

import "fmt"

// SessionState is the lifecycle state of a Session
type SessionState int

const (
	// StateIdle: no company is being observed
	StateIdle SessionState = iota
	// StateSwitching: a company switch is tearing down and loading
	StateSwitching
	// StateActive: polling a company
	StateActive
	// StateDisposed: terminal
	StateDisposed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSwitching:
		return "switching"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canTransition is the complete transition table
func (s SessionState) canTransition(to SessionState) bool {
	switch s {
	case StateIdle:
		return to == StateSwitching || to == StateIdle || to == StateDisposed
	case StateSwitching:
		return to == StateActive || to == StateIdle || to == StateDisposed
	case StateActive:
		return to == StateSwitching || to == StateIdle || to == StateDisposed
	case StateDisposed:
		return false
	default:
		return false
	}
}
