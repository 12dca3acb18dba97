package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterWorkerThenListWorkers(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.RegisterWorker(ctx, "worker-1", 4))

	workers, err := q.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, "worker-1", workers[0].WorkerID)
	require.Equal(t, 4, workers[0].Capacity)
	require.Equal(t, workers[0].RegisteredAt, workers[0].LastHeartbeatAt)
}

func TestWorkerHeartbeatSucceedsForRegisteredWorker(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.RegisterWorker(ctx, "worker-1", 1))
	require.NoError(t, q.WorkerHeartbeat(ctx, "worker-1"))

	workers, err := q.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
}

func TestWorkerHeartbeatFailsForUnknownWorker(t *testing.T) {
	q := newTestQueue(t)
	err := q.WorkerHeartbeat(context.Background(), "ghost")
	require.Error(t, err)
}
