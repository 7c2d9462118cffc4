// Package lifecycle wraps each game subsystem in a finite-state machine
// with declared dependencies, resolves readiness across scheduler ticks,
// and instruments subsystem operations.
//
// A subsystem implements Hooks and registers with a Manager, naming the
// components it depends on. Initialize moves it to INITIALIZING; it reaches
// READY only once every declared dependency is READY, which may take
// several ticks when dependencies have dependencies of their own. The
// dependency wait never blocks: Manager.Tick re-checks pending components
// once per scheduler tick against a wall-clock budget, and a component
// whose budget expires lands in ERROR.
//
// ERROR is sticky: the owner must re-Initialize explicitly, or register
// with a bounded retry policy that re-attempts initialization with
// exponential backoff on subsequent ticks.
package lifecycle

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateUninitialized indicates the component was registered but not initialized
	StateUninitialized State = iota
	// StateInitializing indicates the component is waiting on dependencies or its setup hook
	StateInitializing
	// StateReady indicates the component is running
	StateReady
	// StatePaused indicates the component is suspended
	StatePaused
	// StateError indicates the component failed a lifecycle operation
	StateError
	// StateShutdown indicates the component was torn down; terminal
	StateShutdown
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Hooks defines the component-specific lifecycle callbacks. Subsystems
// embed BaseHooks and override what they need; no engine base class is
// required.
type Hooks interface {
	// Setup runs once all declared dependencies are ready. A returned
	// error moves the component to ERROR.
	Setup(ctx context.Context) error
	// Pause suspends the component. A returned error leaves the state
	// unchanged.
	Pause() error
	// Resume reverses Pause.
	Resume() error
	// Shutdown tears the component down. The component transitions to
	// SHUTDOWN regardless of the returned error.
	Shutdown() error
}

// BaseHooks provides no-op implementations of every hook
type BaseHooks struct{}

// Setup implements Hooks
func (BaseHooks) Setup(context.Context) error { return nil }

// Pause implements Hooks
func (BaseHooks) Pause() error { return nil }

// Resume implements Hooks
func (BaseHooks) Resume() error { return nil }

// Shutdown implements Hooks
func (BaseHooks) Shutdown() error { return nil }

// ErrorRecord is one entry in a component's bounded error history
type ErrorRecord struct {
	Time      time.Time `json:"time"`
	Code      string    `json:"code"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
}

// OperationStats aggregates tracked executions of one named operation
type OperationStats struct {
	Count           int64           `json:"count"`
	Total           time.Duration   `json:"total"`
	Max             time.Duration   `json:"max"`
	RecentDurations []time.Duration `json:"recent_durations"`
}

// PerfSnapshot is a copy of a component's performance counters
type PerfSnapshot struct {
	Operations    int64                     `json:"operations"`
	TotalDuration time.Duration             `json:"total_duration"`
	PeakHeapBytes uint64                    `json:"peak_heap_bytes"`
	PerOperation  map[string]OperationStats `json:"per_operation,omitempty"`
}

// ErrorSnapshot is a copy of a component's error history
type ErrorSnapshot struct {
	Count  int           `json:"count"`
	Recent []ErrorRecord `json:"recent,omitempty"`
}

// Info is a point-in-time snapshot of one component's record
type Info struct {
	Name          string          `json:"name"`
	State         State           `json:"state"`
	PreviousState State           `json:"previous_state"`
	Since         time.Time       `json:"since"`
	Dependencies  map[string]bool `json:"dependencies,omitempty"`
	Dependents    []string        `json:"dependents,omitempty"`
	Performance   PerfSnapshot    `json:"performance"`
	Errors        ErrorSnapshot   `json:"errors"`
}
