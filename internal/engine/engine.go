// Package engine is the authoritative interpreter of the workflow state
// machine (§4.4): register_workflow, create_instance, trigger_event,
// pause/resume/cancel_instance and the read-only instance/event views,
// plus the worker-facing claim/heartbeat/complete/fail surface (§6.2)
// that ties task execution back into the state machine.
package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/degov/workflow-core/domain/eventlog"
	"github.com/degov/workflow-core/domain/instance"
	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
	"github.com/degov/workflow-core/internal/queue"
	"github.com/degov/workflow-core/internal/sandbox"
)

// DefaultLockTTL is the instance lock's hold time (§4.4 step 1): the
// transition budget a single trigger_event call gets before another
// caller may consider the lock abandoned.
const DefaultLockTTL = 30 * time.Second

// Engine wires the KV store, the definition cache, the task queue and the
// sandbox evaluator into the transition protocol.
type Engine struct {
	store     kv.Store
	ks        kv.Keyspace
	cache     *kv.DefinitionCache
	queue     *queue.Queue
	evaluator sandbox.Evaluator
	lockTTL   time.Duration
	now       func() time.Time
}

// New constructs an Engine. cache may be nil, in which case every
// definition lookup reads through to store directly.
func New(store kv.Store, ks kv.Keyspace, cache *kv.DefinitionCache, q *queue.Queue, evaluator sandbox.Evaluator) *Engine {
	return &Engine{
		store:     store,
		ks:        ks,
		cache:     cache,
		queue:     q,
		evaluator: evaluator,
		lockTTL:   DefaultLockTTL,
		now:       time.Now,
	}
}

// transact runs fn through the KV store with the transparent retry-on-
// conflict behavior Store.Transact's own contract promises: a commit that
// races another transaction's write to the same keys is retried rather
// than surfaced to the caller.
func (e *Engine) transact(ctx context.Context, fn func(kv.Txn) error) error {
	return kv.TransactWithRetry(ctx, e.store, 0, fn)
}

func getInstance(txn kv.Txn, ks kv.Keyspace, instanceID string) (instance.Instance, error) {
	data, err := txn.Get(ks.Instance(instanceID))
	if err != nil {
		return instance.Instance{}, kerrors.NewNotFoundError("instance", instanceID)
	}
	var inst instance.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return instance.Instance{}, err
	}
	return inst, nil
}

func putInstance(txn kv.Txn, ks kv.Keyspace, inst instance.Instance) error {
	inst.Version++
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	txn.Set(ks.Instance(inst.ID), data)
	return nil
}

func appendEvent(txn kv.Txn, ks kv.Keyspace, entry eventlog.Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Seq = eventlog.NewSeq()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	txn.Set(ks.Event(entry.InstanceID, entry.Timestamp.UnixNano(), kv.EncodeUint64(entry.Seq)), data)
	return nil
}

// loadDefinition resolves workflowID at version (version == 0 means
// "latest"), reading through the cache when one is configured.
func (e *Engine) loadDefinition(ctx context.Context, workflowID string, version int) (*workflow.Definition, error) {
	resolvedVersion := version
	if resolvedVersion == 0 {
		v, err := e.latestVersion(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		resolvedVersion = v
	}
	versionKey := strconv.Itoa(resolvedVersion)

	load := func(ctx context.Context) (*workflow.Definition, error) {
		var def *workflow.Definition
		err := e.transact(ctx, func(txn kv.Txn) error {
			data, err := txn.Get(e.ks.Workflow(workflowID, versionKey))
			if err != nil {
				return kerrors.NewNotFoundError("workflow", workflowID+"@"+versionKey)
			}
			var d workflow.Definition
			if jsonErr := json.Unmarshal(data, &d); jsonErr != nil {
				return jsonErr
			}
			def = &d
			return nil
		})
		return def, err
	}

	if e.cache == nil {
		return load(ctx)
	}
	return e.cache.Get(ctx, workflowID, versionKey, load)
}

func (e *Engine) latestVersion(ctx context.Context, workflowID string) (int, error) {
	var version int
	err := e.transact(ctx, func(txn kv.Txn) error {
		data, err := txn.Get(e.ks.WorkflowLatest(workflowID))
		if err != nil {
			return kerrors.NewNotFoundError("workflow", workflowID)
		}
		v, convErr := strconv.Atoi(string(data))
		if convErr != nil {
			return convErr
		}
		version = v
		return nil
	})
	return version, err
}
