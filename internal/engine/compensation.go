package engine

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/degov/workflow-core/domain/eventlog"
	"github.com/degov/workflow-core/domain/instance"
	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
	"github.com/degov/workflow-core/internal/queue"
)

// scheduleCompensation is called by the worker-facing Fail path when a
// dead-lettered task was a downstream action of a transition (an on_exit
// or on_enter task applyTransition scheduled; never a compensation task
// itself, which has its own terminal-failure handling in
// failCompensation). Timeout tasks and the initial state's on_enter task
// carry no TransitionID, so their failure schedules nothing. It pushes
// the transition onto the instance's pending stack and immediately tries
// to run the newest entry.
func (e *Engine) scheduleCompensation(ctx context.Context, failed task.Task) error {
	if failed.TransitionID == "" || failed.Purpose == task.PurposeCompensation || failed.Purpose == task.PurposeGeneric {
		return nil
	}

	holderID := uuid.New().String()
	now := e.now()
	err := e.transact(ctx, func(txn kv.Txn) error {
		if err := acquireInstanceLock(txn, e.ks, failed.InstanceID, holderID, now, e.lockTTL); err != nil {
			return err
		}
		inst, err := getInstance(txn, e.ks, failed.InstanceID)
		if err != nil {
			releaseInstanceLock(txn, e.ks, failed.InstanceID)
			return err
		}
		inst.PendingCompensations = append(inst.PendingCompensations, failed.TransitionID)
		if err := putInstance(txn, e.ks, inst); err != nil {
			return err
		}
		releaseInstanceLock(txn, e.ks, failed.InstanceID)
		return nil
	})
	if err != nil {
		return err
	}
	return e.runNextCompensation(ctx, failed.InstanceID)
}

// runNextCompensation pops the instance's newest pending compensation and
// enqueues its transition's Compensation action. Transitions with no
// Compensation declared are skipped (popped with no task scheduled) until
// one is found or the stack empties, all inside a single transaction so
// the pop and the enqueue never observably disagree.
func (e *Engine) runNextCompensation(ctx context.Context, instanceID string) error {
	holderID := uuid.New().String()
	now := e.now()
	return e.transact(ctx, func(txn kv.Txn) error {
		if err := acquireInstanceLock(txn, e.ks, instanceID, holderID, now, e.lockTTL); err != nil {
			return err
		}
		inst, err := getInstance(txn, e.ks, instanceID)
		if err != nil {
			releaseInstanceLock(txn, e.ks, instanceID)
			return err
		}

		def, err := loadDefinitionWithin(txn, e.ks, inst.WorkflowID, inst.WorkflowVersion)
		if err != nil {
			releaseInstanceLock(txn, e.ks, instanceID)
			return err
		}

		for len(inst.PendingCompensations) > 0 {
			last := len(inst.PendingCompensations) - 1
			transitionID := inst.PendingCompensations[last]
			inst.PendingCompensations = inst.PendingCompensations[:last]

			tr, ok := findTransition(def, transitionID)
			if !ok || tr.Compensation == nil {
				continue
			}

			compTask := task.Task{
				InstanceID:   instanceID,
				Action:       *tr.Compensation,
				Purpose:      task.PurposeCompensation,
				TransitionID: tr.ID,
			}
			if _, err := queue.EnqueueWithin(txn, e.ks, compTask, now); err != nil {
				releaseInstanceLock(txn, e.ks, instanceID)
				return err
			}
			if err := putInstance(txn, e.ks, inst); err != nil {
				releaseInstanceLock(txn, e.ks, instanceID)
				return err
			}
			releaseInstanceLock(txn, e.ks, instanceID)
			return nil
		}

		if err := putInstance(txn, e.ks, inst); err != nil {
			releaseInstanceLock(txn, e.ks, instanceID)
			return err
		}
		releaseInstanceLock(txn, e.ks, instanceID)
		return nil
	})
}

// failCompensation handles a compensation task's own terminal failure: the
// instance moves to the Failed status with the compensating error
// attached. No further compensations are attempted.
func (e *Engine) failCompensation(ctx context.Context, failed task.Task, failureMessage string) error {
	holderID := uuid.New().String()
	now := e.now()
	return e.transact(ctx, func(txn kv.Txn) error {
		if err := acquireInstanceLock(txn, e.ks, failed.InstanceID, holderID, now, e.lockTTL); err != nil {
			return err
		}
		inst, err := getInstance(txn, e.ks, failed.InstanceID)
		if err != nil {
			releaseInstanceLock(txn, e.ks, failed.InstanceID)
			return err
		}
		if inst.Status.Terminal() {
			releaseInstanceLock(txn, e.ks, failed.InstanceID)
			return nil
		}
		inst.Status = instance.StatusFailed
		if err := putInstance(txn, e.ks, inst); err != nil {
			releaseInstanceLock(txn, e.ks, failed.InstanceID)
			return err
		}
		if err := appendEvent(txn, e.ks, eventlog.Entry{
			InstanceID: failed.InstanceID,
			Timestamp:  now,
			Type:       eventlog.TypeInstanceFailed,
			TaskID:     failed.ID,
			Error:      failureMessage,
		}); err != nil {
			releaseInstanceLock(txn, e.ks, failed.InstanceID)
			return err
		}
		releaseInstanceLock(txn, e.ks, failed.InstanceID)
		return nil
	})
}

func findTransition(def *workflow.Definition, transitionID string) (workflow.Transition, bool) {
	for _, tr := range def.Transitions {
		if tr.ID == transitionID {
			return tr, true
		}
	}
	return workflow.Transition{}, false
}

// loadDefinitionWithin reads a workflow definition inside an already-open
// transaction, bypassing the cache: compensation scheduling runs from
// inside a lock-holding transaction and can't re-enter Engine.transact.
func loadDefinitionWithin(txn kv.Txn, ks kv.Keyspace, workflowID string, version int) (*workflow.Definition, error) {
	versionKey := strconv.Itoa(version)
	data, err := txn.Get(ks.Workflow(workflowID, versionKey))
	if err != nil {
		return nil, kerrors.NewNotFoundError("workflow", workflowID+"@"+versionKey)
	}
	var def workflow.Definition
	if jsonErr := json.Unmarshal(data, &def); jsonErr != nil {
		return nil, jsonErr
	}
	return &def, nil
}
