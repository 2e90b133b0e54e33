package ratelimit

import (
	"context"
	"sync"
)

// Limit is the stored counter state for one entity.
type Limit struct {
	Count     int   `json:"cnt"`
	Timestamp int64 `json:"ts"`
}

// TxOp brackets a read-modify-write window on an (action, scope)
// bucket.
type TxOp int

const (
	TxBegin TxOp = iota
	TxEnd
)

// Store persists rate-limit counters. Implementations must make the
// Transaction bracket exclusive per (action, scope) bucket: between
// TxBegin and TxEnd no other transaction may run on that bucket.
// UpdateLimit may buffer; Save flushes the bucket where the backend
// distinguishes the two.
type Store interface {
	GetLimit(ctx context.Context, action, scope, entity string) (Limit, bool, error)
	UpdateLimit(ctx context.Context, action, scope, entity string, limit Limit) error

	// Cleanup drops entries last updated at or before olderThan.
	Cleanup(ctx context.Context, action, scope string, olderThan int64) error

	Save(ctx context.Context, action, scope string) error
	Transaction(ctx context.Context, action, scope string, op TxOp) error
}

type memoryBucket struct {
	txMu    sync.Mutex // held between TxBegin and TxEnd
	dataMu  sync.Mutex // guards entries
	entries map[string]Limit
}

// MemoryStore keeps counters in process memory. Suitable for a single
// instance; use RedisStore when limits must be shared.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memoryBucket)}
}

func (s *MemoryStore) bucket(action, scope string) *memoryBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := action + ":" + scope
	b, ok := s.buckets[key]
	if !ok {
		b = &memoryBucket{entries: make(map[string]Limit)}
		s.buckets[key] = b
	}
	return b
}

func (s *MemoryStore) GetLimit(_ context.Context, action, scope, entity string) (Limit, bool, error) {
	b := s.bucket(action, scope)
	b.dataMu.Lock()
	defer b.dataMu.Unlock()
	limit, ok := b.entries[entity]
	return limit, ok, nil
}

func (s *MemoryStore) UpdateLimit(_ context.Context, action, scope, entity string, limit Limit) error {
	b := s.bucket(action, scope)
	b.dataMu.Lock()
	defer b.dataMu.Unlock()
	b.entries[entity] = limit
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, action, scope string, olderThan int64) error {
	b := s.bucket(action, scope)
	b.dataMu.Lock()
	defer b.dataMu.Unlock()
	for entity, limit := range b.entries {
		if limit.Timestamp <= olderThan {
			delete(b.entries, entity)
		}
	}
	return nil
}

func (s *MemoryStore) Save(context.Context, string, string) error {
	return nil
}

func (s *MemoryStore) Transaction(_ context.Context, action, scope string, op TxOp) error {
	b := s.bucket(action, scope)
	switch op {
	case TxBegin:
		b.txMu.Lock()
	case TxEnd:
		b.txMu.Unlock()
	}
	return nil
}
