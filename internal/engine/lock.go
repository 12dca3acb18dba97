package engine

import (
	"encoding/json"
	"time"

	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
)

// instanceLock is the value stored at Keyspace.InstanceLock(id): a
// time-bounded, revocable hold a transition protocol run takes on an
// instance, mirroring task.Lease's shape but scoped to one instance
// rather than one task.
type instanceLock struct {
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (l instanceLock) expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// acquireInstanceLock acquires the lock inside an already-open
// transaction, failing with ErrInstanceBusy if a live holder other than
// holderID is present. The caller releases it with releaseInstanceLock
// once the protected work completes.
func acquireInstanceLock(txn kv.Txn, ks kv.Keyspace, instanceID, holderID string, now time.Time, ttl time.Duration) error {
	key := ks.InstanceLock(instanceID)
	data, err := txn.Get(key)
	if err == nil {
		var existing instanceLock
		if jsonErr := json.Unmarshal(data, &existing); jsonErr != nil {
			return jsonErr
		}
		if !existing.expired(now) && existing.HolderID != holderID {
			return kerrors.ErrInstanceBusy
		}
	} else if !kerrors.IsNotFound(err) {
		return err
	}

	lock := instanceLock{HolderID: holderID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	buf, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	txn.Set(key, buf)
	return nil
}

// releaseInstanceLock clears the lock unconditionally; callers only call
// this after the transaction that acquired the lock is about to commit,
// so the acquire-then-release happens atomically from another
// transaction's perspective.
func releaseInstanceLock(txn kv.Txn, ks kv.Keyspace, instanceID string) {
	txn.Clear(ks.InstanceLock(instanceID))
}
