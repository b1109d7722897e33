package ledger

import (
	"context"
	"errors"
	"sync"

	"fanzcore/core/types"
)

// errPairExists signals an append race on a pair id; Post resolves it by
// comparing fingerprints.
var errPairExists = errors.New("ledger: pair already appended")

// MemoryStore is the in-process store used by tests and single-node
// deployments. Safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	entries      []types.LedgerEntry
	fingerprints map[string]string
}

// NewMemoryStore constructs an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fingerprints: make(map[string]string)}
}

// AppendPair implements Store.
func (s *MemoryStore) AppendPair(_ context.Context, pairID, fingerprint string, entries []types.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.fingerprints[pairID]; exists {
		return errPairExists
	}
	s.fingerprints[pairID] = fingerprint
	s.entries = append(s.entries, entries...)
	return nil
}

// PairFingerprint implements Store.
func (s *MemoryStore) PairFingerprint(_ context.Context, pairID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.fingerprints[pairID]
	return fp, ok, nil
}

// Scan implements Store. Iteration sees a snapshot of the entries present
// when the scan began.
func (s *MemoryStore) Scan(_ context.Context, fn func(types.LedgerEntry) bool) error {
	s.mu.RLock()
	snapshot := make([]types.LedgerEntry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()
	for _, entry := range snapshot {
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

// Len reports the number of appended entries. Primarily for testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
