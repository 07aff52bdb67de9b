// Package task defines the task model bosun drives through its executors
// and mirrors to kanban backends.
package task

import (
	bosunerr "github.com/openfleet/bosun/internal/errors"
)

// Status represents the current state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusTodo, StatusInProgress, StatusInReview,
		StatusDone, StatusFailed, StatusCancelled,
	}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview,
		StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed from s.
func IsTerminal(s Status) bool {
	return s == StatusDone || s == StatusCancelled
}

// transitions is the allowed status graph. Done and cancelled are terminal;
// failed tasks may be retried back into in_progress.
var transitions = map[Status][]Status{
	StatusTodo:       {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusInReview, StatusDone, StatusFailed, StatusCancelled},
	StatusInReview:   {StatusDone, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusInProgress, StatusCancelled},
}

// CanTransition reports whether from→to is an allowed status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error for a disallowed status change on
// the given task.
func ValidateTransition(taskID string, from, to Status) error {
	if !IsValidStatus(to) {
		return bosunerr.ErrInvalidTransition(taskID, string(from), string(to))
	}
	if !CanTransition(from, to) {
		return bosunerr.ErrInvalidTransition(taskID, string(from), string(to))
	}
	return nil
}
