// Package history provides the time-travel middleware for keel stores: a
// bounded, mutex-guarded, re-indexable log of state snapshots with a
// cursor, a replay guard, and pluggable persistence.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avasker/keel"
)

// Snapshot is an immutable record of one state transition. Snapshots are
// created by the Log on every reduction and destroyed only by truncation
// or ClearHistory.
type Snapshot[S any] struct {
	// ID is a unique, time-sortable identifier (UUIDv7 in production).
	ID string
	// State is the published state after the transition.
	State S
	// Intent caused the transition; nil marks the initial/root snapshot.
	Intent keel.Intent
	// Timestamp records when the snapshot was taken.
	Timestamp time.Time
	// Index is the snapshot's position in the log. After any log mutation
	// indices are contiguous 0..n-1.
	Index int
}

// IsRoot reports whether this is the initial/root snapshot. At most one
// root exists per log, and when present it occupies index 0.
func (s Snapshot[S]) IsRoot() bool {
	return s.Intent == nil
}

// Generator produces snapshot IDs.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 snapshot IDs. The
// embedded timestamp makes IDs sortable by creation time, which helps
// when eyeballing exported histories.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7 string. Panics if UUID
// generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined IDs in order, enabling
// deterministic tests and golden-file comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator yielding ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined ID. Panics once all IDs are
// consumed - fail fast on test misconfiguration.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("history: FixedGenerator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
