// Package lock provides keyed mutual exclusion over a fixed set of mutexes.
package lock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is the stripe count used when none is configured.
const DefaultStripes = 256

// Striped maps keys onto a fixed array of mutexes. Two keys may share a
// stripe, which only costs contention, never correctness.
type Striped struct {
	stripes []sync.Mutex
}

// NewStriped creates n stripes. n <= 0 uses DefaultStripes.
func NewStriped(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(key)%uint64(len(s.stripes))]
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) func() {
	m := s.stripe(key)
	m.Lock()
	return m.Unlock
}

// Locks bundles the two stripe sets every mutating path uses. A dispute lock
// is always taken before a card lock.
type Locks struct {
	Cards    *Striped
	Disputes *Striped
}

// NewLocks creates both stripe sets with n stripes each.
func NewLocks(n int) *Locks {
	return &Locks{Cards: NewStriped(n), Disputes: NewStriped(n)}
}
