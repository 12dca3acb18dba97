package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/degov/workflow-core/domain/eventlog"
	"github.com/degov/workflow-core/domain/instance"
	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
	"github.com/degov/workflow-core/internal/queue"
	"github.com/degov/workflow-core/internal/sandbox"
)

// TriggerEvent runs the §4.4 transition protocol. Steps 1-2 (acquire the
// lock, load and verify the instance) happen in one transaction; guard
// evaluation (step 3) runs outside any transaction since it calls out to
// the sandbox; steps 4-6 (mutate state, enqueue tasks, release the lock)
// commit together in a second transaction.
func (e *Engine) TriggerEvent(ctx context.Context, instanceID, event string, payload map[string]any) error {
	holderID := uuid.New().String()
	now := e.now()

	var inst instance.Instance
	deferred := false
	err := e.transact(ctx, func(txn kv.Txn) error {
		deferred = false
		if err := acquireInstanceLock(txn, e.ks, instanceID, holderID, now, e.lockTTL); err != nil {
			return err
		}
		var err error
		inst, err = getInstance(txn, e.ks, instanceID)
		if err != nil {
			return err
		}
		if inst.Status == instance.StatusPaused {
			if err := appendEvent(txn, e.ks, eventlog.Entry{
				InstanceID: instanceID, Timestamp: now, Type: eventlog.TypeEventDeferred, Event: event,
			}); err != nil {
				return err
			}
			releaseInstanceLock(txn, e.ks, instanceID)
			deferred = true
			return nil
		}
		if !inst.CanTransition() {
			releaseInstanceLock(txn, e.ks, instanceID)
			return kerrors.NewValidationError("status", fmt.Sprintf("instance %s is not running", instanceID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if deferred {
		return kerrors.ErrInstancePaused
	}

	def, err := e.loadDefinition(ctx, inst.WorkflowID, inst.WorkflowVersion)
	if err != nil {
		e.bestEffortRelease(ctx, instanceID)
		return err
	}

	candidates := def.TransitionsFrom(inst.CurrentState, event)
	if len(candidates) == 0 {
		return e.finishNoApplicableTransition(ctx, instanceID, event, now)
	}

	chosen, guardErrMsg := e.selectTransition(ctx, candidates, inst.Context)
	if chosen == nil {
		if guardErrMsg != "" {
			e.logGuardError(ctx, instanceID, event, guardErrMsg, now)
		}
		return e.finishNoApplicableTransition(ctx, instanceID, event, now)
	}

	return e.applyTransition(ctx, instanceID, *def, *chosen, now)
}

// selectTransition evaluates candidates' guards in declaration order and
// returns the first whose guard is truthy, or, when no guard is truthy,
// the first guardless one (§4.4 step 3). A thrown guard counts as false and its
// message is returned for logging.
func (e *Engine) selectTransition(ctx context.Context, candidates []workflow.Transition, snapshot map[string]any) (*workflow.Transition, string) {
	var firstGuardless *workflow.Transition
	var lastGuardErr string

	kvHost, err := newContextKVHost(snapshot)
	if err != nil {
		return nil, err.Error()
	}

	for i := range candidates {
		tr := candidates[i]
		if tr.Guard == "" {
			if firstGuardless == nil {
				firstGuardless = &tr
			}
			continue
		}
		result, err := e.evaluator.Evaluate(ctx, sandbox.EvalRequest{
			Code:          tr.Guard,
			Context:       snapshot,
			IsGuard:       true,
			Timeout:       sandbox.DefaultGuardTimeout,
			Collaborators: sandbox.Collaborators{KV: kvHost},
		})
		if err != nil {
			lastGuardErr = err.Error()
			continue
		}
		if truthy(result.Value) {
			return &tr, ""
		}
	}
	if firstGuardless != nil {
		return firstGuardless, ""
	}
	return nil, lastGuardErr
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

func (e *Engine) logGuardError(ctx context.Context, instanceID, event, message string, now time.Time) {
	_ = e.transact(ctx, func(txn kv.Txn) error {
		return appendEvent(txn, e.ks, eventlog.Entry{
			InstanceID: instanceID, Timestamp: now, Type: eventlog.TypeGuardError, Event: event, Error: message,
		})
	})
}

func (e *Engine) finishNoApplicableTransition(ctx context.Context, instanceID, event string, now time.Time) error {
	err := e.transact(ctx, func(txn kv.Txn) error {
		if err := appendEvent(txn, e.ks, eventlog.Entry{
			InstanceID: instanceID, Timestamp: now, Type: eventlog.TypeEventIgnored, Event: event,
		}); err != nil {
			return err
		}
		releaseInstanceLock(txn, e.ks, instanceID)
		return nil
	})
	if err != nil {
		return err
	}
	return kerrors.ErrNoApplicableTransition
}

func (e *Engine) bestEffortRelease(ctx context.Context, instanceID string) {
	_ = e.transact(ctx, func(txn kv.Txn) error {
		releaseInstanceLock(txn, e.ks, instanceID)
		return nil
	})
}

// applyTransition runs §4.4 steps 4-6 in one transaction: enqueue
// on_exit, mutate current_state/version, append Transitioned, enqueue
// on_enter and a timeout task, and release the lock. If the destination
// state is terminal, the instance's status becomes Completed.
func (e *Engine) applyTransition(ctx context.Context, instanceID string, def workflow.Definition, tr workflow.Transition, now time.Time) error {
	attempt := uuid.New().String()
	return e.transact(ctx, func(txn kv.Txn) error {
		inst, err := getInstance(txn, e.ks, instanceID)
		if err != nil {
			return err
		}

		fromState := def.States[tr.From]
		if fromState.OnExit != nil {
			exitTask := task.Task{
				InstanceID:     instanceID,
				Action:         *fromState.OnExit,
				Purpose:        task.PurposeOnExit,
				TransitionID:   tr.ID,
				IdempotencyKey: idempotencyKey(instanceID, tr.ID, "exit", attempt),
			}
			if _, err := queue.EnqueueWithin(txn, e.ks, exitTask, now); err != nil {
				return err
			}
		}

		inst.CurrentState = tr.To
		toState := def.States[tr.To]
		if toState.IsTerminal {
			inst.Status = instance.StatusCompleted
		}
		if err := putInstance(txn, e.ks, inst); err != nil {
			return err
		}
		if err := appendEvent(txn, e.ks, eventlog.Entry{
			InstanceID: instanceID, Timestamp: now, Type: eventlog.TypeTransitioned,
			FromState: tr.From, ToState: tr.To, Event: tr.Event,
		}); err != nil {
			return err
		}
		if toState.OnEnter != nil {
			enterTask := task.Task{
				InstanceID:     instanceID,
				Action:         *toState.OnEnter,
				Purpose:        task.PurposeOnEnter,
				TransitionID:   tr.ID,
				IdempotencyKey: idempotencyKey(instanceID, tr.ID, "enter", attempt),
			}
			if _, err := queue.EnqueueWithin(txn, e.ks, enterTask, now); err != nil {
				return err
			}
		}
		if toState.TimeoutSeconds > 0 {
			timeoutTask := task.Task{
				InstanceID:  instanceID,
				ScheduledAt: now.Add(time.Duration(toState.TimeoutSeconds) * time.Second),
				Purpose:     task.PurposeTimeout,
			}
			if _, err := queue.EnqueueWithin(txn, e.ks, timeoutTask, now); err != nil {
				return err
			}
		}

		releaseInstanceLock(txn, e.ks, instanceID)
		return nil
	})
}

func idempotencyKey(instanceID, transitionID, phase, attempt string) string {
	sum := sha256.Sum256([]byte(instanceID + "|" + transitionID + "|" + phase + "|" + attempt))
	return hex.EncodeToString(sum[:])
}
