// Package task holds the Task, TaskLease and Worker domain models used by
// the priority-ordered task queue.
package task

import (
	"time"

	"github.com/degov/workflow-core/domain/workflow"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
	StatusCancelled  Status = "cancelled"
)

// DefaultMaxRetries is applied when a Task does not specify one.
const DefaultMaxRetries = 3

// Purpose distinguishes the role a task plays in the engine's transition
// protocol (§4.4) from a plain Action::Task the DSL schedules on its own.
type Purpose string

const (
	// PurposeGeneric is a task with no tie to a specific transition.
	PurposeGeneric      Purpose = ""
	PurposeOnEnter      Purpose = "on_enter"
	PurposeOnExit       Purpose = "on_exit"
	PurposeTimeout      Purpose = "timeout"
	PurposeCompensation Purpose = "compensation"
)

// Lease is a time-bounded, revocable grant to execute a task.
type Lease struct {
	WorkerID    string
	ClaimedAt   time.Time
	ExpiresAt   time.Time
	HeartbeatAt time.Time
}

// Expired reports whether the lease is void at instant now.
func (l Lease) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// Task is a unit of work enqueued on behalf of a workflow instance.
type Task struct {
	ID             string
	InstanceID     string
	Action         workflow.Action
	Priority       int32
	ScheduledAt    time.Time
	RetryCount     int
	MaxRetries     int
	Status         Status
	Lease          *Lease
	IdempotencyKey string
	CreatedAt      time.Time

	// Purpose and TransitionID tie a task back to the transition protocol
	// step that scheduled it, so a terminal failure knows which
	// transition's compensation (if any) to run.
	Purpose      Purpose
	TransitionID string
}

// EffectiveMaxRetries returns MaxRetries, defaulting to DefaultMaxRetries
// when unset.
func (t Task) EffectiveMaxRetries() int {
	if t.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return t.MaxRetries
}

// ExhaustedRetries reports whether another failure should move the task to
// the dead-letter partition rather than reschedule it.
func (t Task) ExhaustedRetries() bool {
	return t.RetryCount >= t.EffectiveMaxRetries()
}

// Worker describes a registered worker process.
type Worker struct {
	WorkerID        string
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
	Capacity        int
}

// Expired reports whether the worker has missed three heartbeat intervals.
func (w Worker) Expired(now time.Time, heartbeatInterval time.Duration) bool {
	return now.Sub(w.LastHeartbeatAt) > 3*heartbeatInterval
}
