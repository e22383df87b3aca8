package regime

import "time"

type StateKind string

const (
	StateInactive StateKind = "inactive"
	StateFasting  StateKind = "fasting"
	StateEating   StateKind = "eating"
)

// State is the single authoritative regime answer consumed by every caller:
// either the regime is off, or we are inside a fasting window, or we are
// eating until the next scheduled start.
type State struct {
	Kind        StateKind `json:"kind"`
	WindowStart time.Time `json:"windowStart,omitempty"`
	WindowEnd   time.Time `json:"windowEnd,omitempty"`
	NextStart   time.Time `json:"nextStart,omitempty"`
}

func Inactive() State {
	return State{Kind: StateInactive}
}

func Fasting(start, end time.Time) State {
	return State{Kind: StateFasting, WindowStart: start, WindowEnd: end}
}

func Eating(nextStart time.Time) State {
	return State{Kind: StateEating, NextStart: nextStart}
}
