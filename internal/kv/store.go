// Package kv adapts a transactional, ordered key-value store (FoundationDB
// semantics) behind a small interface: multi-key ACID transactions, range
// scans, versionstamps, and per-transaction conflict detection.
//
// This package ships one implementation, an in-process memkv store used by
// tests and by cmd/workerd's -dev mode. Production deployments point Store
// at a real FoundationDB client; Driver below is the seam for that binding,
// left unimplemented here.
package kv

import (
	"context"
	"time"

	"github.com/degov/workflow-core/internal/kerrors"
)

// Versionstamp is a 10-byte value assigned by the store at commit time,
// used for uniqueness within a timestamp (the `seq` component of
// event-log keys).
type Versionstamp [10]byte

// KeyValue is one row returned from a range scan.
type KeyValue struct {
	Key   Key
	Value []byte
}

// Txn is the set of operations available inside one transaction. Apart
// from GetVersionstamp, a Txn must not be used after the Transact callback
// returns.
type Txn interface {
	Get(key Key) ([]byte, error)
	Set(key Key, value []byte)
	Clear(key Key)
	ClearRange(begin, end Key)

	// GetRange returns rows with begin <= key < end, ascending by key byte
	// order, unless reverse is set. Every key returned is added to the
	// transaction's read set exactly as Get would, so a concurrent write to
	// any row a range scan observed conflicts this transaction at commit.
	GetRange(begin, end Key, reverse bool) ([]KeyValue, error)

	// GetVersionstamp returns the zero Versionstamp while the transaction
	// is still open; once Transact has committed it, the same Txn returns
	// the commit's versionstamp, matching FoundationDB's future-value
	// idiom.
	GetVersionstamp() Versionstamp
}

// Store is a transactional ordered KV store.
type Store interface {
	// Transact runs fn inside a transaction and commits it. If fn returns
	// an error, the transaction is not committed and that error is
	// returned unchanged. If the commit itself fails because another
	// transaction raced it, Transact returns kerrors.ErrConflict and the
	// caller is expected to retry (per §7, Conflict is retried
	// transparently).
	Transact(ctx context.Context, fn func(Txn) error) error

	// Close releases the store's resources.
	Close() error
}

// Driver is implemented by a concrete backend (e.g. a FoundationDB client
// binding) that Store wraps. Left unimplemented here; see package doc.
type Driver interface {
	Store
}

// DefaultConflictRetries bounds how many attempts in all, the first run
// included, TransactWithRetry makes while Transact keeps failing with a
// kerrors.IsRetryable error.
const DefaultConflictRetries = 10

// maxConflictBackoff caps the delay between conflict retries. Real
// transaction conflicts are expected to clear in microseconds, so this
// stays far below the backoff the task queue uses for failed tasks.
const maxConflictBackoff = 50 * time.Millisecond

// TransactWithRetry runs fn through store.Transact, retrying with a capped
// exponential backoff whenever the commit (or fn itself) fails with a
// kerrors.IsRetryable error — the transparent retry Transact's own
// contract promises for a commit conflict, generalized to fn's own
// transient errors too. Any other error is returned unchanged; exhausting
// maxRetries (0 selects DefaultConflictRetries) returns the last one.
func TransactWithRetry(ctx context.Context, store Store, maxRetries int, fn func(Txn) error) error {
	if maxRetries <= 0 {
		maxRetries = DefaultConflictRetries
	}
	delay := time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := store.Transact(ctx, fn)
		if err == nil {
			return nil
		}
		if !kerrors.IsRetryable(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
			if delay > maxConflictBackoff {
				delay = maxConflictBackoff
			}
		}
	}
	return lastErr
}
