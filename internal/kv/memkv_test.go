package kv

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/degov/workflow-core/internal/kerrors"
)

func TestTransactSetThenGet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	err := store.Transact(ctx, func(txn Txn) error {
		txn.Set(Key("a"), []byte("1"))
		return nil
	})
	require.NoError(t, err)

	var got []byte
	err = store.Transact(ctx, func(txn Txn) error {
		v, err := txn.Get(Key("a"))
		got = v
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}

func TestTransactGetMissingReturnsNotFound(t *testing.T) {
	store := NewMemStore()
	err := store.Transact(context.Background(), func(txn Txn) error {
		_, err := txn.Get(Key("missing"))
		return err
	})
	require.True(t, kerrors.IsNotFound(err))
}

func TestTransactReadYourOwnWrites(t *testing.T) {
	store := NewMemStore()
	err := store.Transact(context.Background(), func(txn Txn) error {
		txn.Set(Key("a"), []byte("1"))
		v, err := txn.Get(Key("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestTransactClearRemovesKey(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Transact(ctx, func(txn Txn) error {
		txn.Set(Key("a"), []byte("1"))
		return nil
	}))
	require.NoError(t, store.Transact(ctx, func(txn Txn) error {
		txn.Clear(Key("a"))
		return nil
	}))
	err := store.Transact(ctx, func(txn Txn) error {
		_, err := txn.Get(Key("a"))
		return err
	})
	require.True(t, kerrors.IsNotFound(err))
}

func TestTransactGetRangeOrdersAscendingAndDescending(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Transact(ctx, func(txn Txn) error {
		txn.Set(Key("tasks/001"), []byte("a"))
		txn.Set(Key("tasks/002"), []byte("b"))
		txn.Set(Key("tasks/003"), []byte("c"))
		return nil
	}))

	var rows []KeyValue
	err := store.Transact(ctx, func(txn Txn) error {
		begin, end := PrefixRange(Key("tasks"))
		r, err := txn.GetRange(begin, end, false)
		rows = r
		return err
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, Key("tasks/001"), rows[0].Key)
	require.Equal(t, Key("tasks/003"), rows[2].Key)

	err = store.Transact(ctx, func(txn Txn) error {
		begin, end := PrefixRange(Key("tasks"))
		r, err := txn.GetRange(begin, end, true)
		rows = r
		return err
	})
	require.NoError(t, err)
	require.Equal(t, Key("tasks/003"), rows[0].Key)
}

func TestTransactConflictOnConcurrentReadWrite(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Transact(ctx, func(txn Txn) error {
		txn.Set(Key("counter"), []byte("0"))
		return nil
	}))

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			results[idx] = store.Transact(ctx, func(txn Txn) error {
				_, err := txn.Get(Key("counter"))
				if err != nil {
					return err
				}
				txn.Set(Key("counter"), []byte("1"))
				return nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	conflicts := 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case kerrors.IsConflict(err):
			conflicts++
		}
	}
	require.Equal(t, 2, successes+conflicts)
}

func TestGetVersionstampChangesAcrossCommits(t *testing.T) {
	// GetVersionstamp is only meaningful once the enclosing transaction has
	// committed, so the caller keeps its own reference to the Txn past the
	// Transact call instead of reading it from inside the callback.
	store := NewMemStore()
	ctx := context.Background()

	var firstTxn, secondTxn Txn
	require.NoError(t, store.Transact(ctx, func(txn Txn) error {
		firstTxn = txn
		txn.Set(Key("a"), []byte("1"))
		return nil
	}))
	require.NoError(t, store.Transact(ctx, func(txn Txn) error {
		secondTxn = txn
		txn.Set(Key("b"), []byte("2"))
		return nil
	}))
	require.NotEqual(t, firstTxn.GetVersionstamp(), secondTxn.GetVersionstamp())
}
