package kv

import (
	"bytes"
	"context"
	"crypto/rand"
	"sort"
	"sync"

	"github.com/degov/workflow-core/internal/kerrors"
)

// MemStore is an in-process, mutex-protected ordered KV store. It
// implements the same optimistic-concurrency contract a real
// FoundationDB-backed Store would: every transaction records the keys it
// read, and commit fails with kerrors.ErrConflict if any of those keys
// changed since the read, mirroring infrastructure/state's single-key
// CompareAndSwap generalized to a whole transaction's read set.
type MemStore struct {
	mu      sync.Mutex
	data    map[string]versionedValue
	version uint64
}

type versionedValue struct {
	value   []byte
	version uint64
	deleted bool
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]versionedValue)}
}

func (s *MemStore) Close() error { return nil }

// Transact runs fn against a fresh memTxn and, if fn succeeds, attempts to
// commit. A read/write conflict against another transaction that committed
// in between yields kerrors.ErrConflict.
func (s *MemStore) Transact(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := &memTxn{
		store:  s,
		reads:  make(map[string]uint64),
		writes: make(map[string]*writeOp),
	}
	if err := fn(txn); err != nil {
		return err
	}
	return s.commit(txn)
}

func (s *MemStore) commit(txn *memTxn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seenVersion := range txn.reads {
		cur := s.data[key] // zero value => version 0, present absent
		if cur.version != seenVersion {
			return kerrors.ErrConflict
		}
	}

	s.version++
	newVersion := s.version
	for _, rk := range txn.clearedRanges {
		for key := range s.data {
			if key >= rk.begin && key < rk.end {
				delete(s.data, key)
			}
		}
	}
	for key, op := range txn.writes {
		if op.clear {
			delete(s.data, key)
			continue
		}
		s.data[key] = versionedValue{value: op.value, version: newVersion}
	}
	txn.committedVersionstamp = versionstampFromUint64(newVersion)
	return nil
}

type writeOp struct {
	value []byte
	clear bool
}

type memTxn struct {
	store                 *MemStore
	reads                 map[string]uint64
	writes                map[string]*writeOp
	clearedRanges         []rangeKey
	committedVersionstamp Versionstamp
}

type rangeKey struct{ begin, end string }

func (t *memTxn) Get(key Key) ([]byte, error) {
	k := string(key)
	if op, ok := t.writes[k]; ok {
		if op.clear {
			return nil, kerrors.ErrNotFound
		}
		return op.value, nil
	}
	for _, rk := range t.clearedRanges {
		if k >= rk.begin && k < rk.end {
			return nil, kerrors.ErrNotFound
		}
	}

	t.store.mu.Lock()
	v, ok := t.store.data[k]
	t.store.mu.Unlock()

	if !ok {
		if _, seen := t.reads[k]; !seen {
			t.reads[k] = 0
		}
		return nil, kerrors.ErrNotFound
	}
	t.reads[k] = v.version
	return v.value, nil
}

func (t *memTxn) Set(key Key, value []byte) {
	buf := append([]byte(nil), value...)
	t.writes[string(key)] = &writeOp{value: buf}
}

func (t *memTxn) Clear(key Key) {
	t.writes[string(key)] = &writeOp{clear: true}
}

func (t *memTxn) ClearRange(begin, end Key) {
	t.clearedRanges = append(t.clearedRanges, rangeKey{begin: string(begin), end: string(end)})
}

func (t *memTxn) GetRange(begin, end Key, reverse bool) ([]KeyValue, error) {
	lo, hi := string(begin), string(end)

	t.store.mu.Lock()
	merged := make(map[string][]byte, len(t.store.data))
	for k, v := range t.store.data {
		if k >= lo && k < hi {
			merged[k] = v.value
			t.reads[k] = v.version
		}
	}
	t.store.mu.Unlock()

	for _, rk := range t.clearedRanges {
		for k := range merged {
			if k >= rk.begin && k < rk.end {
				delete(merged, k)
			}
		}
	}
	for k, op := range t.writes {
		if k < lo || k >= hi {
			continue
		}
		if op.clear {
			delete(merged, k)
		} else {
			merged[k] = op.value
		}
	}

	out := make([]KeyValue, 0, len(merged))
	for k, v := range merged {
		out = append(out, KeyValue{Key: Key(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key, out[j].Key) < 0
	})
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (t *memTxn) GetVersionstamp() Versionstamp {
	return t.committedVersionstamp
}

func versionstampFromUint64(v uint64) Versionstamp {
	var out Versionstamp
	for i := 9; i >= 2; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	_, _ = rand.Read(out[0:2])
	return out
}
