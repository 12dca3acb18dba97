package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/degov/workflow-core/domain/eventlog"
	"github.com/degov/workflow-core/domain/instance"
	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
	"github.com/degov/workflow-core/internal/queue"
)

// CreateInstance atomically creates a new instance in workflowID's
// initial state, appends InstanceCreated, and enqueues the initial
// state's on_enter action and timeout task (if any). If idempotencyKey
// was already used, the pre-existing instance's ID is returned instead.
// The idempotency check and the instance write happen inside the same
// transaction, so two concurrent calls with the same key can't both
// observe "not yet used" and both commit a new instance.
func (e *Engine) CreateInstance(ctx context.Context, workflowID string, version int, idempotencyKey string, initialContext map[string]any) (string, error) {
	def, err := e.loadDefinition(ctx, workflowID, version)
	if err != nil {
		return "", err
	}
	initialState, ok := def.States[def.InitialState]
	if !ok {
		return "", kerrors.NewValidationError("initial_state", "not declared on workflow "+def.ID)
	}

	now := e.now()
	instanceID := uuid.New().String()
	inst := instance.Instance{
		ID:              instanceID,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		CurrentState:    def.InitialState,
		Status:          instance.StatusRunning,
		Context:         initialContext,
		IdempotencyKey:  idempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var pendingTasks []task.Task
	if initialState.OnEnter != nil {
		pendingTasks = append(pendingTasks, task.Task{
			InstanceID: instanceID,
			Action:     *initialState.OnEnter,
			Purpose:    task.PurposeOnEnter,
		})
	}
	if initialState.TimeoutSeconds > 0 {
		pendingTasks = append(pendingTasks, task.Task{
			InstanceID:  instanceID,
			ScheduledAt: now.Add(time.Duration(initialState.TimeoutSeconds) * time.Second),
			Purpose:     task.PurposeTimeout,
		})
	}

	var resultID string
	err = e.transact(ctx, func(txn kv.Txn) error {
		if idempotencyKey != "" {
			idemKey := e.ks.InstanceIdempotency(idempotencyKey)
			existing, getErr := txn.Get(idemKey)
			if getErr == nil {
				resultID = string(existing)
				return nil
			}
			if !kerrors.IsNotFound(getErr) {
				return getErr
			}
			txn.Set(idemKey, []byte(instanceID))
		}

		inst.UpdatedAt = now
		data, marshalErr := json.Marshal(inst)
		if marshalErr != nil {
			return marshalErr
		}
		txn.Set(e.ks.Instance(instanceID), data)
		if err := appendEvent(txn, e.ks, eventlog.Entry{
			InstanceID: instanceID,
			Timestamp:  now,
			Type:       eventlog.TypeInstanceCreated,
			ToState:    def.InitialState,
		}); err != nil {
			return err
		}
		for _, t := range pendingTasks {
			if _, enqueueErr := queue.EnqueueWithin(txn, e.ks, t, now); enqueueErr != nil {
				return enqueueErr
			}
		}
		resultID = instanceID
		return nil
	})
	if err != nil {
		return "", err
	}
	return resultID, nil
}

// GetInstance is a read-only view of one instance.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (instance.Instance, error) {
	var inst instance.Instance
	err := e.transact(ctx, func(txn kv.Txn) error {
		var err error
		inst, err = getInstance(txn, e.ks, instanceID)
		return err
	})
	return inst, err
}

// GetEvents returns instanceID's event log, oldest first.
func (e *Engine) GetEvents(ctx context.Context, instanceID string) ([]eventlog.Entry, error) {
	var out []eventlog.Entry
	err := e.transact(ctx, func(txn kv.Txn) error {
		begin, end := e.ks.EventsRange(instanceID)
		rows, err := txn.GetRange(begin, end, false)
		if err != nil {
			return err
		}
		for _, row := range rows {
			var entry eventlog.Entry
			if jsonErr := json.Unmarshal(row.Value, &entry); jsonErr != nil {
				return jsonErr
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// ListInstances returns every instance of workflowID. workflowID == ""
// returns every instance regardless of workflow.
func (e *Engine) ListInstances(ctx context.Context, workflowID string) ([]instance.Instance, error) {
	var out []instance.Instance
	err := e.transact(ctx, func(txn kv.Txn) error {
		begin, end := e.ks.InstancesRange()
		rows, err := txn.GetRange(begin, end, false)
		if err != nil {
			return err
		}
		for _, row := range rows {
			var inst instance.Instance
			if jsonErr := json.Unmarshal(row.Value, &inst); jsonErr != nil {
				return jsonErr
			}
			if workflowID == "" || inst.WorkflowID == workflowID {
				out = append(out, inst)
			}
		}
		return nil
	})
	return out, err
}

// PauseInstance and ResumeInstance are lock-protected status transitions
// between Running and Paused (§4.4's instance status machine).
func (e *Engine) PauseInstance(ctx context.Context, instanceID string) error {
	return e.withLockedInstance(ctx, instanceID, func(txn kv.Txn, inst instance.Instance) (instance.Instance, eventlog.Type, error) {
		if inst.Status != instance.StatusRunning {
			return inst, "", kerrors.NewValidationError("status", "instance is not running")
		}
		inst.Status = instance.StatusPaused
		return inst, eventlog.TypeInstancePaused, nil
	})
}

func (e *Engine) ResumeInstance(ctx context.Context, instanceID string) error {
	return e.withLockedInstance(ctx, instanceID, func(txn kv.Txn, inst instance.Instance) (instance.Instance, eventlog.Type, error) {
		if inst.Status != instance.StatusPaused {
			return inst, "", kerrors.NewValidationError("status", "instance is not paused")
		}
		inst.Status = instance.StatusRunning
		return inst, eventlog.TypeInstanceResumed, nil
	})
}

// CancelInstance moves a running or paused instance to the terminal
// Cancelled status. Its outstanding tasks are not actively touched here;
// they self-cancel on their next claim attempt (see worker_facing.go).
func (e *Engine) CancelInstance(ctx context.Context, instanceID string) error {
	return e.withLockedInstance(ctx, instanceID, func(txn kv.Txn, inst instance.Instance) (instance.Instance, eventlog.Type, error) {
		if inst.Status.Terminal() {
			return inst, "", kerrors.NewValidationError("status", "instance is already terminal")
		}
		inst.Status = instance.StatusCancelled
		return inst, eventlog.TypeInstanceCancelled, nil
	})
}

// withLockedInstance runs mutate under the instance lock in a single
// transaction: acquire, load, mutate, persist, release, commit.
func (e *Engine) withLockedInstance(ctx context.Context, instanceID string, mutate func(kv.Txn, instance.Instance) (instance.Instance, eventlog.Type, error)) error {
	holderID := uuid.New().String()
	now := e.now()
	return e.transact(ctx, func(txn kv.Txn) error {
		if err := acquireInstanceLock(txn, e.ks, instanceID, holderID, now, e.lockTTL); err != nil {
			return err
		}
		inst, err := getInstance(txn, e.ks, instanceID)
		if err != nil {
			return err
		}
		updated, eventType, err := mutate(txn, inst)
		if err != nil {
			return err
		}
		if err := putInstance(txn, e.ks, updated); err != nil {
			return err
		}
		if eventType != "" {
			if err := appendEvent(txn, e.ks, eventlog.Entry{
				InstanceID: instanceID,
				Timestamp:  now,
				Type:       eventType,
			}); err != nil {
				return err
			}
		}
		releaseInstanceLock(txn, e.ks, instanceID)
		return nil
	})
}
