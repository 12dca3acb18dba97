// Package queue is the durable, priority-ordered, lease-based task queue
// of §4.3: enqueue, claim, heartbeat, complete and fail, all implemented
// as single KV transactions over internal/kv's keyspace.
package queue

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/degov/workflow-core/domain/eventlog"
	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
)

// DefaultLeaseTTL is applied by Claim when a caller doesn't pass one.
const DefaultLeaseTTL = 30 * time.Second

// Queue is the task queue backed by a kv.Store.
type Queue struct {
	store   kv.Store
	ks      kv.Keyspace
	backoff BackoffConfig
	now     func() time.Time
}

// New constructs a Queue. backoff is the retry schedule used by Fail for
// non-transient failures; pass a zero value to get DefaultBackoffConfig.
func New(store kv.Store, ks kv.Keyspace, backoff BackoffConfig) *Queue {
	if backoff == (BackoffConfig{}) {
		backoff = DefaultBackoffConfig()
	}
	return &Queue{store: store, ks: ks, backoff: backoff, now: time.Now}
}

// transact runs fn through the KV store with the transparent retry-on-
// conflict behavior Store.Transact's own contract promises.
func (q *Queue) transact(ctx context.Context, fn func(kv.Txn) error) error {
	return kv.TransactWithRetry(ctx, q.store, 0, fn)
}

// Enqueue writes t's ordered ready key. If t.IdempotencyKey already has a
// recorded completion result, Enqueue fails fast rather than running the
// task again.
func (q *Queue) Enqueue(ctx context.Context, t task.Task) (task.Task, error) {
	var result task.Task
	err := q.transact(ctx, func(txn kv.Txn) error {
		var err error
		result, err = EnqueueWithin(txn, q.ks, t, q.now())
		return err
	})
	if err != nil {
		return task.Task{}, err
	}
	return result, nil
}

// EnqueueWithin performs Enqueue's write against an already-open
// transaction, so a caller that needs to enqueue a task as part of a
// larger atomic write (the engine's create_instance and transition
// protocol, §4.4) can do so without nesting a second Transact call. now
// is used to default ScheduledAt/CreatedAt when t leaves them zero.
func EnqueueWithin(txn kv.Txn, ks kv.Keyspace, t task.Task, now time.Time) (task.Task, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = now
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.Status = task.StatusPending
	t.Lease = nil

	if t.IdempotencyKey != "" {
		if _, err := txn.Get(ks.TaskIdempotency(t.IdempotencyKey)); err == nil {
			return task.Task{}, kerrors.NewConflictError("task", t.IdempotencyKey, "idempotency key already has a recorded result")
		}
	}
	if err := putTask(txn, ks.ReadyTask(t.Priority, t.ScheduledAt.UnixNano(), t.ID), t); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// candidate is a task located during Claim's scan, annotated with which
// partition it currently lives in so Claim knows which key to clear.
type candidate struct {
	t          task.Task
	readyKey   kv.Key
	fromLeased bool
}

// Claim finds the highest-priority, earliest-scheduled task that is
// either Pending and due or Claimed with an expired lease, and grants
// workerID a new lease of leaseTTL. It returns (nil, nil) if nothing is
// eligible.
func (q *Queue) Claim(ctx context.Context, workerID string, leaseTTL time.Duration) (*task.Task, error) {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	now := q.now()

	var claimed *task.Task
	err := q.transact(ctx, func(txn kv.Txn) error {
		candidates, err := q.collectCandidates(txn, now)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		best := candidates[0]

		lease := &task.Lease{
			WorkerID:    workerID,
			ClaimedAt:   now,
			ExpiresAt:   now.Add(leaseTTL),
			HeartbeatAt: now,
		}
		best.t.Status = task.StatusClaimed
		best.t.Lease = lease

		if best.fromLeased {
			if err := putTask(txn, q.ks.LeasedTask(best.t.ID), best.t); err != nil {
				return err
			}
		} else {
			txn.Clear(best.readyKey)
			if err := putTask(txn, q.ks.LeasedTask(best.t.ID), best.t); err != nil {
				return err
			}
		}
		result := best.t
		claimed = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// collectCandidates gathers every task eligible for claim right now: due
// Pending tasks from the ready partition and any Claimed task whose lease
// has expired from the leased partition, ordered by (priority desc,
// scheduled_at asc, id asc) — strict priority, FIFO within a band, no
// worker affinity (§4.3).
func (q *Queue) collectCandidates(txn kv.Txn, now time.Time) ([]candidate, error) {
	var out []candidate

	readyBegin, readyEnd := q.ks.ReadyTasksRange()
	readyRows, err := txn.GetRange(readyBegin, readyEnd, false)
	if err != nil {
		return nil, err
	}
	for _, row := range readyRows {
		var t task.Task
		if err := json.Unmarshal(row.Value, &t); err != nil {
			return nil, err
		}
		if !t.ScheduledAt.After(now) {
			out = append(out, candidate{t: t, readyKey: row.Key})
		}
	}

	leasedBegin, leasedEnd := q.ks.LeasedTasksRange()
	leasedRows, err := txn.GetRange(leasedBegin, leasedEnd, false)
	if err != nil {
		return nil, err
	}
	for _, row := range leasedRows {
		var t task.Task
		if err := json.Unmarshal(row.Value, &t); err != nil {
			return nil, err
		}
		if t.Lease != nil && t.Lease.Expired(now) {
			out = append(out, candidate{t: t, fromLeased: true})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].t, out[j].t
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Heartbeat extends a claimed task's lease and, on its first call after
// Claim, advances the task to Running. It fails with ErrLeaseLost if
// workerID no longer matches the stored lease holder (another worker
// reclaimed it after expiry).
func (q *Queue) Heartbeat(ctx context.Context, taskID, workerID string, leaseTTL time.Duration) error {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	now := q.now()
	return q.transact(ctx, func(txn kv.Txn) error {
		t, err := getTask(txn, q.ks.LeasedTask(taskID))
		if err != nil {
			return err
		}
		if t.Lease == nil || t.Lease.WorkerID != workerID {
			return kerrors.ErrLeaseLost
		}
		t.Lease.HeartbeatAt = now
		t.Lease.ExpiresAt = now.Add(leaseTTL)
		if t.Status == task.StatusClaimed {
			t.Status = task.StatusRunning
		}
		return putTask(txn, q.ks.LeasedTask(taskID), t)
	})
}

// Complete records result under t.IdempotencyKey (if set), marks the task
// Succeeded, appends a TaskCompleted event and removes it from the queue.
func (q *Queue) Complete(ctx context.Context, taskID, workerID string, result any) error {
	return q.transact(ctx, func(txn kv.Txn) error {
		t, err := getTask(txn, q.ks.LeasedTask(taskID))
		if err != nil {
			return err
		}
		if t.Lease == nil || t.Lease.WorkerID != workerID {
			return kerrors.ErrLeaseLost
		}
		t.Status = task.StatusSucceeded
		if t.IdempotencyKey != "" {
			data, err := json.Marshal(result)
			if err != nil {
				return err
			}
			txn.Set(q.ks.TaskIdempotency(t.IdempotencyKey), data)
		}
		txn.Clear(q.ks.LeasedTask(taskID))
		return appendEvent(txn, q.ks, t.InstanceID, q.now(), eventlog.TypeTaskCompleted, t.ID, "")
	})
}

// Fail increments retry_count and either reschedules the task with
// exponential backoff or, once retries are exhausted, moves it to the
// dead-letter partition. transient callers (a classified ErrTransient)
// get a shorter backoff schedule than the default. It returns the task's
// post-failure state so a caller (the engine's worker-facing wrapper) can
// tell whether this failure was terminal without a second lookup.
func (q *Queue) Fail(ctx context.Context, taskID, workerID, failureMessage string, transient bool) (task.Task, error) {
	now := q.now()
	var result task.Task
	err := q.transact(ctx, func(txn kv.Txn) error {
		t, err := getTask(txn, q.ks.LeasedTask(taskID))
		if err != nil {
			return err
		}
		if t.Lease == nil || t.Lease.WorkerID != workerID {
			return kerrors.ErrLeaseLost
		}
		t.RetryCount++
		txn.Clear(q.ks.LeasedTask(taskID))

		if t.ExhaustedRetries() {
			t.Status = task.StatusDeadLetter
			t.Lease = nil
			if err := putTask(txn, q.ks.DeadTask(t.ID), t); err != nil {
				return err
			}
			result = t
			return appendEvent(txn, q.ks, t.InstanceID, now, eventlog.TypeTaskDeadLettered, t.ID, failureMessage)
		}

		cfg := q.backoff
		if transient {
			cfg = transientBackoff(cfg)
		}
		delay := cfg.Compute(t.RetryCount)
		t.ScheduledAt = now.Add(delay)
		t.Status = task.StatusPending
		t.Lease = nil
		if err := putTask(txn, q.ks.ReadyTask(t.Priority, t.ScheduledAt.UnixNano(), t.ID), t); err != nil {
			return err
		}
		result = t
		return appendEvent(txn, q.ks, t.InstanceID, now, eventlog.TypeTaskFailed, t.ID, failureMessage)
	})
	return result, err
}

// transientBackoff shortens the base and cap for Transient failures,
// which are expected to self-resolve quickly (§4.5).
func transientBackoff(cfg BackoffConfig) BackoffConfig {
	cfg.Base = cfg.Base / 4
	cfg.MaxDelay = cfg.MaxDelay / 4
	return cfg
}

// Reschedule defers a claimed task to now+delay without touching its
// retry_count, the primitive behind Action::Delay (§4.5 step 2: "Delay ->
// reschedule task to now+seconds"). Unlike Fail, this is not a failure: the
// task simply has nothing to do yet.
func (q *Queue) Reschedule(ctx context.Context, taskID, workerID string, delay time.Duration) error {
	now := q.now()
	return q.transact(ctx, func(txn kv.Txn) error {
		t, err := getTask(txn, q.ks.LeasedTask(taskID))
		if err != nil {
			return err
		}
		if t.Lease == nil || t.Lease.WorkerID != workerID {
			return kerrors.ErrLeaseLost
		}
		txn.Clear(q.ks.LeasedTask(taskID))
		t.ScheduledAt = now.Add(delay)
		t.Status = task.StatusPending
		t.Lease = nil
		return putTask(txn, q.ks.ReadyTask(t.Priority, t.ScheduledAt.UnixNano(), t.ID), t)
	})
}

// MarkCancelled removes a claimed task from the leased partition without
// running it. The engine calls this from inside its Claim wrapper when the
// task's owning instance turns out to already be terminal. No copy of the
// task with a Cancelled status is kept, and no event is written.
func (q *Queue) MarkCancelled(ctx context.Context, taskID, workerID string) error {
	return q.transact(ctx, func(txn kv.Txn) error {
		t, err := getTask(txn, q.ks.LeasedTask(taskID))
		if err != nil {
			return err
		}
		if t.Lease == nil || t.Lease.WorkerID != workerID {
			return kerrors.ErrLeaseLost
		}
		txn.Clear(q.ks.LeasedTask(taskID))
		return nil
	})
}

// Requeue is the admin operation named in §8's Boundaries: it resets a
// dead-lettered task to Pending with retry_count cleared.
func (q *Queue) Requeue(ctx context.Context, taskID string) error {
	now := q.now()
	return q.transact(ctx, func(txn kv.Txn) error {
		t, err := getTask(txn, q.ks.DeadTask(taskID))
		if err != nil {
			return err
		}
		txn.Clear(q.ks.DeadTask(taskID))
		t.RetryCount = 0
		t.Status = task.StatusPending
		t.ScheduledAt = now
		t.Lease = nil
		return putTask(txn, q.ks.ReadyTask(t.Priority, t.ScheduledAt.UnixNano(), t.ID), t)
	})
}

// ListDeadLetter returns up to limit dead-lettered tasks for operator
// inspection.
func (q *Queue) ListDeadLetter(ctx context.Context, limit int) ([]task.Task, error) {
	var out []task.Task
	err := q.transact(ctx, func(txn kv.Txn) error {
		begin, end := q.ks.DeadTasksRange()
		rows, err := txn.GetRange(begin, end, false)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if limit > 0 && len(out) >= limit {
				break
			}
			var t task.Task
			if err := json.Unmarshal(row.Value, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

// Peek returns up to n ready tasks in claim order without claiming them,
// a read-only diagnostic view of the head of the queue.
func (q *Queue) Peek(ctx context.Context, n int) ([]task.Task, error) {
	var out []task.Task
	err := q.transact(ctx, func(txn kv.Txn) error {
		candidates, err := q.collectCandidates(txn, q.now())
		if err != nil {
			return err
		}
		for i, c := range candidates {
			if n > 0 && i >= n {
				break
			}
			out = append(out, c.t)
		}
		return nil
	})
	return out, err
}

func getTask(txn kv.Txn, key kv.Key) (task.Task, error) {
	data, err := txn.Get(key)
	if err != nil {
		return task.Task{}, kerrors.NewNotFoundError("task", string(key))
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func putTask(txn kv.Txn, key kv.Key, t task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	txn.Set(key, data)
	return nil
}

// appendEvent writes one eventlog.Entry. Seq disambiguates entries that
// land on the same nanosecond timestamp; a real versionstamp would be the
// natural fit (store.go), but it is only valid after commit, so this
// package uses a random 64-bit tie-breaker instead.
func appendEvent(txn kv.Txn, ks kv.Keyspace, instanceID string, at time.Time, typ eventlog.Type, taskID, errMsg string) error {
	if instanceID == "" {
		return nil
	}
	seq := eventlog.NewSeq()
	entry := eventlog.Entry{
		InstanceID: instanceID,
		Timestamp:  at,
		Seq:        seq,
		Type:       typ,
		TaskID:     taskID,
		Error:      errMsg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	txn.Set(ks.Event(instanceID, at.UnixNano(), kv.EncodeUint64(seq)), data)
	return nil
}
