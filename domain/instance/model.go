// Package instance holds the WorkflowInstance domain model: a live
// execution of a WorkflowDefinition.
package instance

import "time"

// Status is the lifecycle state of an instance.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether status is a sink with no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Instance is a live execution of a workflow definition.
type Instance struct {
	ID              string
	WorkflowID      string
	WorkflowVersion int
	CurrentState    string
	Status          Status
	Context         map[string]any
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// Version is an optimistic-concurrency counter; it strictly increases
	// on every persisted write.
	Version int64

	// PendingCompensations holds transition IDs whose action failed
	// terminally and still need their compensation run, in the order
	// they failed. The engine pops from the back of this slice right
	// after each push and enqueues that transition's compensation task at
	// once, so an entry left behind is popped only after every newer one.
	// A new compensation task is not held back while an earlier one is
	// still in flight.
	PendingCompensations []string
}

// CanTransition reports whether the instance may still accept transitions:
// it must be Running and not yet in a terminal status.
func (i Instance) CanTransition() bool {
	return i.Status == StatusRunning && !i.Status.Terminal()
}
