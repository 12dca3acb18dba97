package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/degov/workflow-core/domain/eventlog"
	"github.com/degov/workflow-core/domain/instance"
	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/domain/workflow"
)

func compensatingWorkflow() workflow.Definition {
	onEnter := &workflow.Action{Kind: workflow.ActionTask, TaskType: "reserve"}
	compensation := &workflow.Action{Kind: workflow.ActionTask, TaskType: "release"}
	return workflow.Definition{
		ID:           "test.example/booking#workflow",
		InitialState: "pending",
		States: map[string]workflow.StateDefinition{
			"pending":  {Name: "pending"},
			"reserved": {Name: "reserved", OnEnter: onEnter},
			"done":     {Name: "done", IsTerminal: true},
		},
		Transitions: []workflow.Transition{
			{ID: "t-reserve", From: "pending", To: "reserved", Event: "reserve", Compensation: compensation},
			{ID: "t-finish", From: "reserved", To: "done", Event: "finish"},
		},
	}
}

func TestClaimCancelsTasksOfTerminalInstances(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RegisterWorkflow(context.Background(), compensatingWorkflow())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "test.example/booking#workflow", 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, e.TriggerEvent(ctx, id, "reserve", nil))
	require.NoError(t, e.CancelInstance(ctx, id))

	claimed, err := e.Claim(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestFailDeadLetteringOnEnterTaskSchedulesCompensation(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RegisterWorkflow(context.Background(), compensatingWorkflow())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "test.example/booking#workflow", 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, e.TriggerEvent(ctx, id, "reserve", nil))

	onEnter, err := e.Claim(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, onEnter)
	require.Equal(t, task.PurposeOnEnter, onEnter.Purpose)
	taskID := onEnter.ID

	// Default max retries is 3; fail the same task until it dead-letters.
	for i := 0; i < task.DefaultMaxRetries; i++ {
		require.NoError(t, e.Fail(ctx, taskID, "worker-1", "reservation backend down", false))
		claimed, err := e.Claim(ctx, "worker-1", time.Minute)
		require.NoError(t, err)
		if claimed != nil && claimed.Purpose == task.PurposeCompensation {
			taskID = claimed.ID
			break
		}
		require.NotNil(t, claimed)
		taskID = claimed.ID
	}

	compTask, err := e.leasedTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, task.PurposeCompensation, compTask.Purpose)
	require.Equal(t, "t-reserve", compTask.TransitionID)

	require.NoError(t, e.Complete(ctx, taskID, "worker-1", nil))

	events, err := e.GetEvents(ctx, id)
	require.NoError(t, err)
	found := false
	for _, ev := range events {
		if ev.Type == eventlog.TypeCompensated {
			found = true
		}
	}
	require.True(t, found)
}

func TestFailDeadLetteringCompensationTaskFailsInstance(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RegisterWorkflow(context.Background(), compensatingWorkflow())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "test.example/booking#workflow", 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, e.TriggerEvent(ctx, id, "reserve", nil))

	onEnter, err := e.Claim(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	taskID := onEnter.ID

	var compTaskID string
	for i := 0; i < task.DefaultMaxRetries; i++ {
		require.NoError(t, e.Fail(ctx, taskID, "worker-1", "boom", false))
		claimed, err := e.Claim(ctx, "worker-1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		taskID = claimed.ID
		if claimed.Purpose == task.PurposeCompensation {
			compTaskID = claimed.ID
			break
		}
	}
	require.NotEmpty(t, compTaskID)

	for i := 0; i < task.DefaultMaxRetries; i++ {
		failErr := e.Fail(ctx, compTaskID, "worker-1", "compensation also failed", false)
		require.NoError(t, failErr)
		claimed, err := e.Claim(ctx, "worker-1", time.Minute)
		require.NoError(t, err)
		if claimed == nil {
			break
		}
		compTaskID = claimed.ID
	}

	inst, err := e.GetInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, instance.StatusFailed, inst.Status)
}
