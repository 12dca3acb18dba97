package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/degov/workflow-core/domain/eventlog"
	"github.com/degov/workflow-core/domain/instance"
	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
)

// WorkerFacing is the subset of Engine operations a worker process drives
// (§6.2's transport-agnostic RPC, here a plain Go interface rather than a
// wire protocol — the gateway that would expose it over Connect-RPC/gRPC
// is explicitly out of scope). internal/worker depends on this interface,
// not *Engine, so it can be driven by a fake in its own tests.
type WorkerFacing interface {
	RegisterWorker(ctx context.Context, workerID string, capacity int) error
	WorkerHeartbeat(ctx context.Context, workerID string) error
	Claim(ctx context.Context, workerID string, leaseTTL time.Duration) (*task.Task, error)
	Heartbeat(ctx context.Context, taskID, workerID string, leaseTTL time.Duration) error
	Complete(ctx context.Context, taskID, workerID string, result any) error
	Fail(ctx context.Context, taskID, workerID, failureMessage string, transient bool) error
	Reschedule(ctx context.Context, taskID, workerID string, delay time.Duration) error
	GetInstance(ctx context.Context, instanceID string) (instance.Instance, error)
}

var _ WorkerFacing = (*Engine)(nil)

// RegisterWorker passes straight through to the queue's worker registry.
func (e *Engine) RegisterWorker(ctx context.Context, workerID string, capacity int) error {
	return e.queue.RegisterWorker(ctx, workerID, capacity)
}

// WorkerHeartbeat passes straight through to the queue's worker registry.
func (e *Engine) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return e.queue.WorkerHeartbeat(ctx, workerID)
}

// Claim wraps the queue's claim with the engine's lazy task-cancellation
// policy (§4.4): an instance that became Completed, Cancelled or Failed
// never has
// its outstanding tasks actively swept, so every claim attempt checks
// the claimed task's owning instance and, if it's terminal, marks the
// task Cancelled and tries the next candidate instead of handing it to
// the caller.
func (e *Engine) Claim(ctx context.Context, workerID string, leaseTTL time.Duration) (*task.Task, error) {
	for {
		claimed, err := e.queue.Claim(ctx, workerID, leaseTTL)
		if err != nil || claimed == nil {
			return claimed, err
		}

		inst, err := e.GetInstance(ctx, claimed.InstanceID)
		if err != nil {
			return claimed, nil
		}
		if !inst.Status.Terminal() {
			return claimed, nil
		}

		if err := e.queue.MarkCancelled(ctx, claimed.ID, workerID); err != nil {
			return nil, err
		}
	}
}

// Heartbeat passes straight through to the queue; heartbeats never touch
// instance state.
func (e *Engine) Heartbeat(ctx context.Context, taskID, workerID string, leaseTTL time.Duration) error {
	return e.queue.Heartbeat(ctx, taskID, workerID, leaseTTL)
}

// Complete records the task's success and folds its result back into the
// owning instance: a PurposeCompensation task appends Compensated to the
// event log (the only place that event type is ever written), and every
// other task's non-nil result is merged into Instance.Context as a patch
// (§4.4) — the engine's only free write to context outside a script's own
// kv.set calls during the action's own evaluation.
func (e *Engine) Complete(ctx context.Context, taskID, workerID string, result any) error {
	t, err := e.leasedTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := e.queue.Complete(ctx, taskID, workerID, result); err != nil {
		return err
	}

	if t.Purpose == task.PurposeCompensation {
		return e.withLockedInstance(ctx, t.InstanceID, func(_ kv.Txn, inst instance.Instance) (instance.Instance, eventlog.Type, error) {
			return inst, eventlog.TypeCompensated, nil
		})
	}
	if result == nil {
		return nil
	}
	return e.withLockedInstance(ctx, t.InstanceID, func(_ kv.Txn, inst instance.Instance) (instance.Instance, eventlog.Type, error) {
		patched, err := patchContext(inst.Context, result)
		if err != nil {
			return inst, "", err
		}
		inst.Context = patched
		return inst, "", nil
	})
}

// Fail records the task's failure and, once the queue has dead-lettered
// it, drives the compensation protocol: a downstream action's terminal
// failure schedules its transition's compensation, and a compensation
// task's own terminal failure moves the instance to Failed.
func (e *Engine) Fail(ctx context.Context, taskID, workerID, failureMessage string, transient bool) error {
	failed, err := e.queue.Fail(ctx, taskID, workerID, failureMessage, transient)
	if err != nil {
		return err
	}
	if failed.Status != task.StatusDeadLetter {
		return nil
	}
	if failed.Purpose == task.PurposeCompensation {
		return e.failCompensation(ctx, failed, failureMessage)
	}
	return e.scheduleCompensation(ctx, failed)
}

// Reschedule passes straight through to the queue; it is the primitive
// behind Action::Delay (§4.5) and never touches instance or retry state.
func (e *Engine) Reschedule(ctx context.Context, taskID, workerID string, delay time.Duration) error {
	return e.queue.Reschedule(ctx, taskID, workerID, delay)
}

// RequeueTask resets a dead-lettered task back to Pending, the admin
// operation that pulls a task back out of the dead-letter partition.
func (e *Engine) RequeueTask(ctx context.Context, taskID string) error {
	return e.queue.Requeue(ctx, taskID)
}

// ListDeadLetterTasks is a read-only view of the dead-letter partition.
func (e *Engine) ListDeadLetterTasks(ctx context.Context, limit int) ([]task.Task, error) {
	return e.queue.ListDeadLetter(ctx, limit)
}

// leasedTask reads a task directly out of the leased partition by ID, the
// one lookup the queue package doesn't expose itself: Peek only surfaces
// ready and reclaimable tasks, never one under an active lease.
func (e *Engine) leasedTask(ctx context.Context, taskID string) (task.Task, error) {
	var t task.Task
	err := e.transact(ctx, func(txn kv.Txn) error {
		data, err := txn.Get(e.ks.LeasedTask(taskID))
		if err != nil {
			return kerrors.NewNotFoundError("task", taskID)
		}
		return json.Unmarshal(data, &t)
	})
	return t, err
}
