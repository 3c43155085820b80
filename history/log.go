package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avasker/keel"
)

// DefaultMaxSize bounds the history when no explicit size is configured.
const DefaultMaxSize = 100

// The size warning fires once history reaches this fraction of MaxSize.
const warnNumerator, warnDenominator = 4, 5 // 80%

// Log is the time-travel middleware. It observes every reduction of the
// store it is registered on and maintains its own timeline: an ordered
// snapshot sequence, a current-index cursor (-1 = uninitialized) and a
// replay guard that suppresses recording while a restore is applied.
//
// All mutations are serialized by a single mutex. The entries slice and
// cursor are owned exclusively by the Log; History returns copies.
type Log[S any] struct {
	mu        sync.Mutex
	entries   []Snapshot[S]
	cursor    int
	replaying bool
	enabled   bool
	warned    bool

	maxSize int
	gen     Generator
	now     func() time.Time
	storage Storage[S]
	logger  *slog.Logger

	onSizeWarning func(size, maxSize int)
	onError       func(error)
}

// LogOption configures a Log at construction time.
type LogOption[S any] func(*Log[S])

// WithMaxSize bounds the history length. Appending beyond the bound
// truncates the oldest non-root entries. Values below 1 are ignored.
func WithMaxSize[S any](n int) LogOption[S] {
	return func(l *Log[S]) {
		if n >= 1 {
			l.maxSize = n
		}
	}
}

// WithGenerator sets the snapshot ID generator. Defaults to UUIDv7.
func WithGenerator[S any](g Generator) LogOption[S] {
	return func(l *Log[S]) {
		if g != nil {
			l.gen = g
		}
	}
}

// WithClock sets the timestamp source. Defaults to time.Now.
func WithClock[S any](now func() time.Time) LogOption[S] {
	return func(l *Log[S]) {
		if now != nil {
			l.now = now
		}
	}
}

// WithStorage attaches a persistence adapter used by Save and LoadFrom.
func WithStorage[S any](st Storage[S]) LogOption[S] {
	return func(l *Log[S]) {
		l.storage = st
	}
}

// WithSizeWarning sets a callback fired once history reaches 80% of the
// maximum size, and again on every truncation.
func WithSizeWarning[S any](fn func(size, maxSize int)) LogOption[S] {
	return func(l *Log[S]) {
		l.onSizeWarning = fn
	}
}

// WithErrorHandler sets the callback receiving replay and persistence
// failures. Errors are additionally logged.
func WithErrorHandler[S any](fn func(error)) LogOption[S] {
	return func(l *Log[S]) {
		l.onError = fn
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger[S any](logger *slog.Logger) LogOption[S] {
	return func(l *Log[S]) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLog creates an enabled, empty log with cursor -1.
func NewLog[S any](opts ...LogOption[S]) *Log[S] {
	l := &Log[S]{
		cursor:  -1,
		enabled: true,
		maxSize: DefaultMaxSize,
		gen:     UUIDv7Generator{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize seeds the root snapshot. Invoked by the store once, on its
// loop goroutine, right after construction.
//
// Cases:
//   - empty history: insert {state, intent=nil, index=0}, cursor 0.
//   - preloaded history without a root: prepend the root and shift every
//     other index by +1, leaving the cursor untouched.
//   - a root already present (including one preloaded with a state equal
//     to the initial state): no-op. The single-root invariant makes
//     re-seeding a duplicate impossible.
func (l *Log[S]) Initialize(state S) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		l.entries = append(l.entries, l.newSnapshot(state, nil, 0))
		l.cursor = 0
		l.logger.Debug("history initialized", "entries", 1)
		return
	}
	if l.rootIndexLocked() >= 0 {
		return
	}

	entries := make([]Snapshot[S], 0, len(l.entries)+1)
	entries = append(entries, l.newSnapshot(state, nil, 0))
	for _, e := range l.entries {
		e.Index++
		entries = append(entries, e)
	}
	l.entries = entries
	l.logger.Debug("history root prepended", "entries", len(entries))
}

// OnIntent is a no-op; the log only observes reductions.
func (l *Log[S]) OnIntent(keel.Intent) {}

// OnSideEffect is a no-op.
func (l *Log[S]) OnSideEffect(keel.Effect[S], keel.Intent) {}

// OnSideEffectResult is a no-op.
func (l *Log[S]) OnSideEffectResult(keel.Result, keel.Intent) {}

// OnStateReduced appends a snapshot for the reduction and moves the
// cursor to it. No-op while disabled or replaying. Appending beyond
// MaxSize truncates: the root entry is preserved, the oldest non-root
// entries are dropped until the size fits, and remaining entries are
// re-indexed 0..n-1.
func (l *Log[S]) OnStateReduced(state S, intent keel.Intent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.replaying {
		return
	}

	l.entries = append(l.entries, l.newSnapshot(state, intent, len(l.entries)))
	if len(l.entries) > l.maxSize {
		l.truncateLocked()
	}
	l.cursor = len(l.entries) - 1
	l.checkSizeLocked()
}

// RestoreStateAt jumps to a recorded snapshot. apply receives the
// snapshot state and must overwrite the store's published state directly
// (keel's Store.RestoreState), bypassing the reducer and effect pipeline
// entirely. While apply runs the replay guard is set, so the restored
// publication is not recorded as a new entry.
//
// Returns false if the log is disabled, the index is out of range, or
// apply panics - the panic is recovered and routed to the error handler
// rather than propagated.
func (l *Log[S]) RestoreStateAt(index int, apply func(S)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || index < 0 || index >= len(l.entries) {
		return false
	}

	l.replaying = true
	defer func() { l.replaying = false }()

	if err := l.applySnapshot(index, apply); err != nil {
		l.reportError(err)
		return false
	}
	l.cursor = index
	l.logger.Debug("history restored", "index", index)
	return true
}

func (l *Log[S]) applySnapshot(index int, apply func(S)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ReplayError{Index: index, Value: r}
		}
	}()
	apply(l.entries[index].State)
	return nil
}

// LoadHistory replaces the timeline with a previously saved sequence.
// Entries are re-indexed 0..n-1 by position regardless of their stored
// indices, so internally inconsistent input degrades to a consistent
// timeline instead of failing.
//
// The cursor moves to the last index when setCurrentToLast is set;
// otherwise it keeps its previous value if still in range, else the
// root's index if a root is present, else the last index.
//
// Returns false only when the log is disabled.
func (l *Log[S]) LoadHistory(snaps []Snapshot[S], setCurrentToLast bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return false
	}

	entries := make([]Snapshot[S], len(snaps))
	copy(entries, snaps)
	for i := range entries {
		entries[i].Index = i
	}

	prev := l.cursor
	l.entries = entries
	l.warned = false

	switch {
	case len(entries) == 0:
		l.cursor = -1
	case setCurrentToLast:
		l.cursor = len(entries) - 1
	case prev >= 0 && prev < len(entries):
		l.cursor = prev
	case l.rootIndexLocked() >= 0:
		l.cursor = l.rootIndexLocked()
	default:
		l.cursor = len(entries) - 1
	}

	l.logger.Debug("history loaded", "entries", len(entries), "cursor", l.cursor)
	return true
}

// ClearHistory collapses the timeline to just the root entry (re-indexed
// to 0) if one exists, else empties it and resets the cursor to -1.
// Idempotent.
func (l *Log[S]) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.warned = false
	rootIdx := l.rootIndexLocked()
	if rootIdx < 0 {
		l.entries = nil
		l.cursor = -1
		return
	}
	root := l.entries[rootIdx]
	root.Index = 0
	l.entries = []Snapshot[S]{root}
	l.cursor = 0
}

// History returns a copy of the timeline.
func (l *Log[S]) History() []Snapshot[S] {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Snapshot[S], len(l.entries))
	copy(out, l.entries)
	return out
}

// CurrentIndex returns the cursor, -1 when uninitialized.
func (l *Log[S]) CurrentIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Len returns the number of recorded snapshots.
func (l *Log[S]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// IsReplaying reports whether a restore is currently being applied.
func (l *Log[S]) IsReplaying() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replaying
}

// Enabled reports whether recording and restoration are active.
func (l *Log[S]) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetEnabled toggles recording and restoration.
func (l *Log[S]) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Save persists the timeline through the attached storage. Best-effort:
// failures are reported through the error handler and returned, never
// fatal. No-op without attached storage.
func (l *Log[S]) Save(ctx context.Context) error {
	if l.storage == nil {
		return nil
	}
	if err := l.storage.Save(ctx, l.History()); err != nil {
		werr := &StorageError{Op: "save", Err: err}
		l.reportError(werr)
		return werr
	}
	return nil
}

// LoadFrom replaces the timeline with the stored history, cursor to last.
// No-op without attached storage.
func (l *Log[S]) LoadFrom(ctx context.Context) error {
	if l.storage == nil {
		return nil
	}
	snaps, err := l.storage.Load(ctx)
	if err != nil {
		werr := &StorageError{Op: "load", Err: err}
		l.reportError(werr)
		return werr
	}
	l.LoadHistory(snaps, true)
	return nil
}

func (l *Log[S]) newSnapshot(state S, intent keel.Intent, index int) Snapshot[S] {
	return Snapshot[S]{
		ID:        l.gen.Generate(),
		State:     state,
		Intent:    intent,
		Timestamp: l.now(),
		Index:     index,
	}
}

// rootIndexLocked finds the root entry. The invariant puts it at index 0,
// but preloaded input is scanned defensively.
func (l *Log[S]) rootIndexLocked() int {
	for i, e := range l.entries {
		if e.IsRoot() {
			return i
		}
	}
	return -1
}

// truncateLocked drops the oldest non-root entries until the size fits,
// preserving the root, then re-indexes contiguously. Fires the size
// warning on every truncation.
func (l *Log[S]) truncateLocked() {
	rootIdx := l.rootIndexLocked()
	drop := len(l.entries) - l.maxSize

	kept := make([]Snapshot[S], 0, l.maxSize)
	if rootIdx >= 0 {
		kept = append(kept, l.entries[rootIdx])
	}
	for i, e := range l.entries {
		if i == rootIdx {
			continue
		}
		if drop > 0 {
			drop--
			continue
		}
		kept = append(kept, e)
	}
	for i := range kept {
		kept[i].Index = i
	}
	l.entries = kept

	l.logger.Debug("history truncated", "entries", len(kept), "max", l.maxSize)
	if l.onSizeWarning != nil {
		l.onSizeWarning(len(l.entries), l.maxSize)
	}
}

// checkSizeLocked fires the one-time 80% size warning.
func (l *Log[S]) checkSizeLocked() {
	if l.onSizeWarning == nil || l.warned {
		return
	}
	if len(l.entries)*warnDenominator >= l.maxSize*warnNumerator {
		l.warned = true
		l.onSizeWarning(len(l.entries), l.maxSize)
	}
}

func (l *Log[S]) reportError(err error) {
	l.logger.Error("history error", "error", err)
	if l.onError != nil {
		l.onError(err)
	}
}
