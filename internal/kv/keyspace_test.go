package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadyTaskOrdersByPriorityThenFIFO(t *testing.T) {
	ks := NewKeyspace("root")

	highFirst := ks.ReadyTask(10, 1000, "task-a")
	highSecond := ks.ReadyTask(10, 2000, "task-b")
	low := ks.ReadyTask(1, 500, "task-c")

	require.True(t, string(highFirst) < string(highSecond))
	require.True(t, string(highFirst) < string(low))
}

func TestInstanceLockIsNestedUnderInstance(t *testing.T) {
	ks := NewKeyspace("root")
	instanceKey := ks.Instance("inst-1")
	lockKey := ks.InstanceLock("inst-1")
	require.NotEqual(t, instanceKey, lockKey)
	require.Equal(t, instanceKey, lockKey[:len(instanceKey)])

	begin, end := ks.InstancesRange()
	require.True(t, string(instanceKey) >= string(begin) && string(instanceKey) < string(end))
}

func TestInstanceIdempotencyDoesNotLeakIntoInstancesRange(t *testing.T) {
	ks := NewKeyspace("root")
	begin, end := ks.InstancesRange()
	idemKey := ks.InstanceIdempotency("order-42")
	require.False(t, string(idemKey) >= string(begin) && string(idemKey) < string(end))
}

func TestTaskIdempotencyIsStableForSameKey(t *testing.T) {
	ks := NewKeyspace("root")
	require.Equal(t, ks.TaskIdempotency("order-42"), ks.TaskIdempotency("order-42"))
	require.NotEqual(t, ks.TaskIdempotency("order-42"), ks.TaskIdempotency("order-43"))
}

func TestWorkflowVersionsRangeScopedToNSID(t *testing.T) {
	ks := NewKeyspace("root")
	begin, end := ks.WorkflowVersionsRange("de.berlin/transit#trip")
	v1 := ks.Workflow("de.berlin/transit#trip", "1")
	other := ks.Workflow("de.berlin/transit#station", "1")

	require.True(t, string(v1) >= string(begin) && string(v1) < string(end))
	require.False(t, string(other) >= string(begin) && string(other) < string(end))
}
