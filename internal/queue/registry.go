package queue

import (
	"context"
	"encoding/json"

	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
)

// RegisterWorker writes or refreshes a worker's record under
// workers/{worker_id} (§6.2 RegisterWorker, §6.3 keyspace). Re-registering
// an already known worker resets its registered_at and heartbeat clock,
// matching a worker process that restarted under the same ID.
func (q *Queue) RegisterWorker(ctx context.Context, workerID string, capacity int) error {
	now := q.now()
	w := task.Worker{
		WorkerID:        workerID,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
		Capacity:        capacity,
	}
	return q.transact(ctx, func(txn kv.Txn) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		txn.Set(q.ks.Worker(workerID), data)
		return nil
	})
}

// WorkerHeartbeat refreshes a registered worker's last_heartbeat_at. It is
// a no-op failure (NotFoundError) if the worker was never registered or
// its record was since evicted.
func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	now := q.now()
	return q.transact(ctx, func(txn kv.Txn) error {
		data, err := txn.Get(q.ks.Worker(workerID))
		if err != nil {
			return kerrors.NewNotFoundError("worker", workerID)
		}
		var w task.Worker
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		w.LastHeartbeatAt = now
		out, err := json.Marshal(w)
		if err != nil {
			return err
		}
		txn.Set(q.ks.Worker(workerID), out)
		return nil
	})
}

// ListWorkers returns every registered worker, for operator inspection and
// for the heartbeat-interval expiry check in task.Worker.Expired.
func (q *Queue) ListWorkers(ctx context.Context) ([]task.Worker, error) {
	var out []task.Worker
	err := q.transact(ctx, func(txn kv.Txn) error {
		begin, end := q.ks.WorkersRange()
		rows, err := txn.GetRange(begin, end, false)
		if err != nil {
			return err
		}
		for _, row := range rows {
			var w task.Worker
			if err := json.Unmarshal(row.Value, &w); err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	return out, err
}
