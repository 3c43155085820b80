package history

import (
	"context"
	"sync"
)

// Storage is the persistence port for snapshot sequences. Implementations
// must defensively copy on both save and load: callers never observe
// aliasing between what they pass in or get back and the storage's
// internal sequence.
//
// Saving is opportunistic (typically on teardown) and best-effort; it is
// not guaranteed to complete before the host terminates.
type Storage[S any] interface {
	Save(ctx context.Context, snaps []Snapshot[S]) error
	Load(ctx context.Context) ([]Snapshot[S], error)
	Clear(ctx context.Context) error
}

// MemoryStorage keeps the last-saved sequence under a mutex. Concurrent
// saves are last-write-wins; concurrent save/load pairs never observe a
// partially written sequence.
type MemoryStorage[S any] struct {
	mu    sync.Mutex
	snaps []Snapshot[S]
}

// NewMemoryStorage creates an empty in-memory adapter.
func NewMemoryStorage[S any]() *MemoryStorage[S] {
	return &MemoryStorage[S]{}
}

// Save replaces the stored sequence with a copy of snaps.
func (m *MemoryStorage[S]) Save(_ context.Context, snaps []Snapshot[S]) error {
	cp := make([]Snapshot[S], len(snaps))
	copy(cp, snaps)

	m.mu.Lock()
	m.snaps = cp
	m.mu.Unlock()
	return nil
}

// Load returns a copy of the stored sequence.
func (m *MemoryStorage[S]) Load(_ context.Context) ([]Snapshot[S], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]Snapshot[S], len(m.snaps))
	copy(cp, m.snaps)
	return cp, nil
}

// Clear drops the stored sequence.
func (m *MemoryStorage[S]) Clear(_ context.Context) error {
	m.mu.Lock()
	m.snaps = nil
	m.mu.Unlock()
	return nil
}
