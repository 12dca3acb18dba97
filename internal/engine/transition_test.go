package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/degov/workflow-core/domain/instance"
	"github.com/degov/workflow-core/internal/kerrors"
)

func TestTriggerEventPicksGuardedTransitionWhenTruthy(t *testing.T) {
	e := newTestEngine(t)
	registerApproval(t, e)
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "test.example/approval#workflow", 0, "", map[string]any{"amount": 500})
	require.NoError(t, err)

	require.NoError(t, e.TriggerEvent(ctx, id, "decide", nil))

	inst, err := e.GetInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "approved", inst.CurrentState)
	require.Equal(t, instance.StatusCompleted, inst.Status)
}

func TestTriggerEventFallsBackToGuardlessTransition(t *testing.T) {
	e := newTestEngine(t)
	registerApproval(t, e)
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "test.example/approval#workflow", 0, "", map[string]any{"amount": 5000})
	require.NoError(t, err)

	require.NoError(t, e.TriggerEvent(ctx, id, "decide", nil))

	inst, err := e.GetInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "rejected", inst.CurrentState)
}

func TestTriggerEventWithUnknownEventIsIgnored(t *testing.T) {
	e := newTestEngine(t)
	registerApproval(t, e)
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "test.example/approval#workflow", 0, "", nil)
	require.NoError(t, err)

	err = e.TriggerEvent(ctx, id, "no-such-event", nil)
	require.ErrorIs(t, err, kerrors.ErrNoApplicableTransition)

	events, err := e.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2) // InstanceCreated, EventIgnored

	inst, err := e.GetInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "submitted", inst.CurrentState)
}

func TestTriggerEventEnqueuesOnExitTask(t *testing.T) {
	e := newTestEngine(t)
	registerApproval(t, e)
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "test.example/approval#workflow", 0, "", map[string]any{"amount": 500})
	require.NoError(t, err)

	// Drain the on_enter task create_instance scheduled for "submitted".
	onEnter, err := e.queue.Claim(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, onEnter)

	require.NoError(t, e.TriggerEvent(ctx, id, "decide", nil))

	onExit, err := e.queue.Claim(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, onExit)
	require.Equal(t, id, onExit.InstanceID)
}
