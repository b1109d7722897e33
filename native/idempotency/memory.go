package idempotency

import (
	"context"
	"sync"
	"time"
)

type record struct {
	committed bool
	envelope  []byte
	expiresAt time.Time
}

// MemoryStore is the in-process backend used by tests and single-node
// deployments. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Scope]map[string]*record
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Scope]map[string]*record),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock. Primarily for tests.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, scope Scope, key string, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.records[scope]
	if bucket == nil {
		bucket = make(map[string]*record)
		s.records[scope] = bucket
	}
	now := s.now()
	if rec, ok := bucket[key]; ok {
		if rec.committed {
			return Reservation{State: Committed, Envelope: rec.envelope}, nil
		}
		if now.Before(rec.expiresAt) {
			return Reservation{State: InFlight}, nil
		}
		// Abandoned reservation; reclaim it.
	}
	bucket[key] = &record{expiresAt: now.Add(ttl)}
	return Reservation{State: Fresh}, nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(_ context.Context, scope Scope, key string, envelope []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[scope][key]
	if !ok {
		return ErrUnknownKey
	}
	rec.committed = true
	rec.envelope = append([]byte(nil), envelope...)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, scope Scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[scope][key]
	if !ok || rec.committed {
		return nil
	}
	delete(s.records[scope], key)
	return nil
}
