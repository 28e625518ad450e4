package breaker

import "time"

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Probing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// StateChange records one transition of a breaker's state machine.
type StateChange struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Stats holds the aggregate counters for one breaker.
type Stats struct {
	TotalCalls           int64     `json:"total_calls"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailureTime      time.Time `json:"last_failure_time"`
	LastSuccessTime      time.Time `json:"last_success_time"`
}

// Snapshot is a read-only view of a breaker for introspection endpoints.
// Stats is embedded so its counters read directly off the snapshot.
type Snapshot struct {
	Name              string        `json:"name"`
	State             string        `json:"state"`
	Stats             `json:"stats"`
	WindowFailureRate float64       `json:"window_failure_rate"`
	WindowSlowRate    float64       `json:"window_slow_rate"`
	LastStateChanges  []StateChange `json:"last_state_changes"`
}
