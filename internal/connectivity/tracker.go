package connectivity

import (
	"fmt"
	"time"
)

// Status is the aggregated connection state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Probe is the outcome of one health check.
type Probe struct {
	OK    bool
	Ready bool
	// Err describes a failed probe; it is logged, never surfaced.
	Err error
}

// Thresholds are the consecutive failure counts that move to StatusError.
type Thresholds struct {
	Startup   int
	Connected int
}

// State is a snapshot of the tracker.
type State struct {
	Status              Status
	Ready               bool
	ConsecutiveFailures int
	Since               time.Time
}

// Label renders the status for display. A connected backend that is still
// loading is reported as initializing.
func (s State) Label() string {
	if s.Status == StatusConnected && !s.Ready {
		return "connected (initializing)"
	}
	return string(s.Status)
}

// Transition is the result of one observation.
type Transition struct {
	From State
	To   State
}

// Changed reports an aggregated change: status or readiness moved.
func (t Transition) Changed() bool {
	return t.From.Status != t.To.Status || t.From.Ready != t.To.Ready
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s", t.From.Label(), t.To.Label())
}

// Tracker applies the hysteresis rules. It is not safe for concurrent use.
type Tracker struct {
	thresholds Thresholds
	state      State
	now        func() time.Time
}

// NewTracker starts in StatusConnecting. Thresholds below one are raised to one.
func NewTracker(thresholds Thresholds, now func() time.Time) *Tracker {
	if thresholds.Startup < 1 {
		thresholds.Startup = 1
	}
	if thresholds.Connected < 1 {
		thresholds.Connected = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		thresholds: thresholds,
		state:      State{Status: StatusConnecting, Since: now()},
		now:        now,
	}
}

// State returns the current snapshot.
func (t *Tracker) State() State { return t.state }

// Observe folds one probe into the state.
func (t *Tracker) Observe(p Probe) Transition {
	from := t.state
	next := from
	if p.OK {
		next.ConsecutiveFailures = 0
		next.Status = StatusConnected
		next.Ready = p.Ready
	} else {
		next.ConsecutiveFailures++
		switch from.Status {
		case StatusConnecting:
			if next.ConsecutiveFailures >= t.thresholds.Startup {
				next.Status = StatusError
			}
		case StatusConnected:
			if next.ConsecutiveFailures >= t.thresholds.Connected {
				next.Status = StatusError
			}
		}
		if next.Status == StatusError {
			next.Ready = false
		}
	}
	if next.Status != from.Status {
		next.Since = t.now()
	}
	t.state = next
	return Transition{From: from, To: next}
}

// Reset returns to StatusConnecting with no failures, as a manual retry does.
func (t *Tracker) Reset() Transition {
	from := t.state
	t.state = State{Status: StatusConnecting, Since: t.now()}
	return Transition{From: from, To: t.state}
}
