// Package eventlog holds the append-only per-instance audit trail model.
package eventlog

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the kinds of entries appended to an instance's event log.
type Type string

const (
	TypeInstanceCreated   Type = "InstanceCreated"
	TypeTransitioned      Type = "Transitioned"
	TypeStateEntered      Type = "StateEntered"
	TypeEventIgnored      Type = "EventIgnored"
	TypeEventDeferred     Type = "EventDeferred"
	TypeGuardError        Type = "GuardError"
	TypeTaskScheduled     Type = "TaskScheduled"
	TypeTaskCompleted     Type = "TaskCompleted"
	TypeTaskFailed        Type = "TaskFailed"
	TypeTaskDeadLettered  Type = "TaskDeadLettered"
	TypeInstancePaused    Type = "InstancePaused"
	TypeInstanceResumed   Type = "InstanceResumed"
	TypeInstanceCancelled Type = "InstanceCancelled"
	TypeInstanceFailed    Type = "InstanceFailed"
	TypeCompensated       Type = "Compensated"
)

// Entry is one append-only event-log record, keyed by
// (instance_id, timestamp, seq).
type Entry struct {
	InstanceID string
	Timestamp  time.Time
	Seq        uint64
	Type       Type
	Actor      string
	FromState  string
	ToState    string
	Event      string
	TaskID     string
	Error      string
	Payload    map[string]any
}

// NewSeq returns a random tie-breaker for two entries landing on the same
// (instance_id, timestamp): the store's real versionstamp is only valid
// after the transaction that writes the entry commits, so it can't be
// used as part of the key at write time.
func NewSeq() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}
