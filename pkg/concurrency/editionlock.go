package concurrency

import "sync"

// EditionMutexMap hands out a per-edition mutex, created lazily on first
// use and guarded by its own initializer lock so two goroutines racing to
// create the same edition's mutex never end up with two distinct locks.
type EditionMutexMap struct {
	mu       sync.Mutex
	editions map[string]*sync.Mutex
}

// NewEditionMutexMap constructs an empty EditionMutexMap.
func NewEditionMutexMap() *EditionMutexMap {
	return &EditionMutexMap{editions: make(map[string]*sync.Mutex)}
}

func (m *EditionMutexMap) mutexFor(editionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.editions[editionID]
	if !ok {
		mu = &sync.Mutex{}
		m.editions[editionID] = mu
	}
	return mu
}

// Lock acquires the mutex for editionID, blocking until it is free, and
// returns an unlock function for the caller to defer. Every feedback
// edit for a given edition serializes through this lock so concurrent
// feedback never interleaves revisions out of sequence.
func (m *EditionMutexMap) Lock(editionID string) (unlock func()) {
	mu := m.mutexFor(editionID)
	mu.Lock()
	return mu.Unlock
}
