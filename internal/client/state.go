package client

import (
	"fmt"
	"sync"
)

// State is the connection lifecycle phase. Exactly one State exists
// per Client; it is mutated only by the lifecycle machine below.
type State int

const (
	// StateUninitialized is the phase before the initialize request.
	StateUninitialized State = iota
	// StateInitializing covers the initialize round trip.
	StateInitializing
	// StateRunning is the normal operating phase.
	StateRunning
	// StateShuttingDown covers the shutdown round trip.
	StateShuttingDown
	// StateStopped is terminal; a new Client is needed for a new
	// connection.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LifecycleError reports an operation attempted in an illegal
// connection state. It is always the caller's bug and is surfaced
// synchronously, before any frame is written.
type LifecycleError struct {
	State  State
	Method string
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("method %q not allowed while connection is %s", e.Method, e.State)
}

// lifecycle serializes state reads and transitions. It is shared by
// caller goroutines and the read task, so all access is under the
// mutex.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

// current returns the state.
func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// transition moves from exactly `from` to `to`, failing with a
// LifecycleError otherwise. Stopped is terminal.
func (l *lifecycle) transition(from, to State, method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return &LifecycleError{State: l.state, Method: method}
	}
	l.state = to
	return nil
}

// guard checks that method may be issued in the current state. Only
// Running permits application traffic; exit is also legal while
// shutting down or stopped.
func (l *lifecycle) guard(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRunning:
		return nil
	case StateShuttingDown, StateStopped:
		if method == "exit" {
			return nil
		}
	}
	return &LifecycleError{State: l.state, Method: method}
}

// forceStop drives the machine to Stopped regardless of phase. Used on
// transport teardown.
func (l *lifecycle) forceStop() {
	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
}
