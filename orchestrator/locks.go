package orchestrator

import (
	"encoding/binary"
	"sync"

	"lukechampine.com/blake3"
)

const defaultLockStripes = 64

// stripedLocks serializes work by key without one mutex per entity. The
// stripe count bounds memory; two keys sharing a stripe merely serialize
// against each other.
type stripedLocks struct {
	stripes []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	if n <= 0 {
		n = defaultLockStripes
	}
	return &stripedLocks{stripes: make([]sync.Mutex, n)}
}

// lock acquires the stripe for key and returns its unlock.
func (s *stripedLocks) lock(key string) func() {
	sum := blake3.Sum256([]byte(key))
	i := binary.BigEndian.Uint32(sum[:4]) % uint32(len(s.stripes))
	s.stripes[i].Lock()
	return s.stripes[i].Unlock
}
