// Package testutil provides deterministic clocks and ID sequences for
// tests and the scenario harness.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// SeqClock is a thread-safe monotonic logical clock. Trace events are
// stamped from it so the same scenario always yields identical sequence
// numbers.
type SeqClock struct {
	mu  sync.Mutex
	seq int64
}

// NewSeqClock creates a clock starting at 0; the first Next returns 1.
func NewSeqClock() *SeqClock {
	return &SeqClock{}
}

// Next increments and returns the next sequence number.
func (c *SeqClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *SeqClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to 0 for scenario reuse.
func (c *SeqClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// TickingClock yields deterministic wall-clock times: every Now call
// returns the current time and advances it by a fixed step. Snapshot
// timestamps produced with it are stable across runs.
type TickingClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewTickingClock creates a clock starting at start, advancing by step
// on every Now call.
func NewTickingClock(start time.Time, step time.Duration) *TickingClock {
	return &TickingClock{t: start, step: step}
}

// Now returns the current time and advances the clock.
func (c *TickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

// SeqIDGenerator yields "prefix-0001", "prefix-0002", ... without ever
// exhausting, for deterministic snapshot IDs in scenarios of unknown
// length.
type SeqIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqIDGenerator creates a generator with the given prefix.
func NewSeqIDGenerator(prefix string) *SeqIDGenerator {
	return &SeqIDGenerator{prefix: prefix}
}

// Generate returns the next ID in the sequence.
func (g *SeqIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
