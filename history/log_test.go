package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasker/keel"
)

type counter struct {
	Value int `json:"value"`
}

// seqGen yields gen-1, gen-2, ... without exhausting.
type seqGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqGen) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("gen-%d", g.n)
}

func newTestLog(opts ...LogOption[counter]) *Log[counter] {
	base := []LogOption[counter]{
		WithGenerator[counter](&seqGen{}),
		WithClock[counter](func() time.Time { return time.Unix(0, 0).UTC() }),
	}
	return NewLog(append(base, opts...)...)
}

// reduceN seeds the log with n reductions on top of the root.
func reduceN(l *Log[counter], n int) {
	for i := 1; i <= n; i++ {
		l.OnStateReduced(counter{Value: i}, fmt.Sprintf("step-%d", i))
	}
}

func TestLog_InitializeSeedsRoot(t *testing.T) {
	l := newTestLog()
	assert.Equal(t, -1, l.CurrentIndex())

	l.Initialize(counter{Value: 5})

	require.Equal(t, 1, l.Len())
	assert.Equal(t, 0, l.CurrentIndex())

	root := l.History()[0]
	assert.True(t, root.IsRoot())
	assert.Equal(t, 5, root.State.Value)
	assert.Equal(t, 0, root.Index)
}

func TestLog_InitializeIdempotentWithRoot(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})
	l.Initialize(counter{Value: 9})

	require.Equal(t, 1, l.Len(), "a second Initialize with a root present is a no-op")
	assert.Equal(t, 0, l.History()[0].State.Value)
}

func TestLog_InitializePrependsRootToPreloadedHistory(t *testing.T) {
	l := newTestLog()
	l.LoadHistory([]Snapshot[counter]{
		{ID: "a", State: counter{Value: 1}, Intent: "step-1"},
		{ID: "b", State: counter{Value: 2}, Intent: "step-2"},
	}, true)
	require.Equal(t, 1, l.CurrentIndex())

	l.Initialize(counter{Value: 0})

	entries := l.History()
	require.Len(t, entries, 3)
	assert.True(t, entries[0].IsRoot())
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
	assert.Equal(t, 1, l.CurrentIndex(), "prepending must not move the cursor")
}

func TestLog_OnStateReducedAppendsAndAdvancesCursor(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})
	reduceN(l, 2)

	require.Equal(t, 3, l.Len())
	assert.Equal(t, 2, l.CurrentIndex())

	entries := l.History()
	assert.Equal(t, "step-2", entries[2].Intent)
	assert.Equal(t, 2, entries[2].State.Value)
}

func TestLog_TruncationPreservesRootAndReindexes(t *testing.T) {
	l := newTestLog(WithMaxSize[counter](5))
	l.Initialize(counter{})
	reduceN(l, 7)

	entries := l.History()
	require.Len(t, entries, 5)

	// Root survives; the oldest non-root entries were dropped.
	assert.True(t, entries[0].IsRoot())
	assert.Equal(t, "step-4", entries[1].Intent)
	assert.Equal(t, "step-7", entries[4].Intent)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
	assert.Equal(t, 4, l.CurrentIndex())
}

func TestLog_SizeWarningAt80Percent(t *testing.T) {
	var mu sync.Mutex
	var warnings [][2]int
	l := newTestLog(
		WithMaxSize[counter](10),
		WithSizeWarning[counter](func(size, maxSize int) {
			mu.Lock()
			warnings = append(warnings, [2]int{size, maxSize})
			mu.Unlock()
		}))
	l.Initialize(counter{})

	reduceN(l, 6)
	mu.Lock()
	assert.Empty(t, warnings, "below threshold")
	mu.Unlock()

	reduceN(l, 1) // 8 entries = 80% of 10
	mu.Lock()
	require.Len(t, warnings, 1)
	assert.Equal(t, [2]int{8, 10}, warnings[0])
	mu.Unlock()

	reduceN(l, 1) // still over threshold, but the warning fired already
	mu.Lock()
	assert.Len(t, warnings, 1, "threshold warning fires once")
	mu.Unlock()
}

func TestLog_SizeWarningOnEveryTruncation(t *testing.T) {
	var mu sync.Mutex
	var warnings int
	l := newTestLog(
		WithMaxSize[counter](3),
		WithSizeWarning[counter](func(int, int) {
			mu.Lock()
			warnings++
			mu.Unlock()
		}))
	l.Initialize(counter{})
	reduceN(l, 5) // truncates on the 3rd, 4th and 5th reduction

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, warnings, 3)
}

func TestLog_RestoreStateAt(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})
	reduceN(l, 2)

	var applied counter
	ok := l.RestoreStateAt(1, func(s counter) { applied = s })

	require.True(t, ok)
	assert.Equal(t, 1, applied.Value)
	assert.Equal(t, 1, l.CurrentIndex())
	assert.Equal(t, 3, l.Len(), "restore must not append an entry")
}

func TestLog_RestoreStateAt_OutOfRange(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})

	assert.False(t, l.RestoreStateAt(-1, func(counter) {}))
	assert.False(t, l.RestoreStateAt(1, func(counter) {}))
	assert.Equal(t, 0, l.CurrentIndex())
}

func TestLog_RestoreStateAt_ApplyPanicRecovered(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	l := newTestLog(WithErrorHandler[counter](func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))
	l.Initialize(counter{})
	reduceN(l, 1)

	ok := l.RestoreStateAt(1, func(counter) { panic("apply failed") })

	assert.False(t, ok)
	assert.False(t, l.IsReplaying(), "replay guard released after panic")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	var replayErr *ReplayError
	require.ErrorAs(t, errs[0], &replayErr)
	assert.Equal(t, 1, replayErr.Index)
}

func TestLog_ReplayGuardVisibleDuringApply(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})
	reduceN(l, 2)

	var duringApply bool
	l.RestoreStateAt(1, func(counter) {
		// The guard is held for the whole apply call.
		duringApply = l.replaying
	})

	assert.True(t, duringApply)
	assert.False(t, l.IsReplaying())
	assert.Equal(t, 3, l.Len(), "restore must not append an entry")
}

func TestLog_DisabledLogIgnoresEverything(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})
	l.SetEnabled(false)

	reduceN(l, 2)
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.RestoreStateAt(0, func(counter) {}))
	assert.False(t, l.LoadHistory(nil, true))

	l.SetEnabled(true)
	reduceN(l, 1)
	assert.Equal(t, 2, l.Len())
}

func TestLog_LoadHistoryReindexesByPosition(t *testing.T) {
	l := newTestLog()

	// Stored indices are inconsistent on purpose.
	ok := l.LoadHistory([]Snapshot[counter]{
		{ID: "r", State: counter{}, Index: 7},
		{ID: "a", State: counter{Value: 1}, Intent: "step-1", Index: 3},
		{ID: "b", State: counter{Value: 2}, Intent: "step-2", Index: 3},
	}, true)

	require.True(t, ok)
	entries := l.History()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
	assert.Equal(t, 2, l.CurrentIndex())
}

func TestLog_LoadHistoryCursorRules(t *testing.T) {
	snaps := []Snapshot[counter]{
		{ID: "r", State: counter{}},
		{ID: "a", State: counter{Value: 1}, Intent: "step-1"},
		{ID: "b", State: counter{Value: 2}, Intent: "step-2"},
	}

	// Previous cursor still in range: kept.
	l := newTestLog()
	l.Initialize(counter{})
	reduceN(l, 1) // cursor 1
	l.LoadHistory(snaps, false)
	assert.Equal(t, 1, l.CurrentIndex())

	// Previous cursor out of range: falls back to the root.
	l = newTestLog()
	l.Initialize(counter{})
	reduceN(l, 5) // cursor 5
	l.LoadHistory(snaps, false)
	assert.Equal(t, 0, l.CurrentIndex())

	// Empty load resets.
	l = newTestLog()
	l.Initialize(counter{})
	l.LoadHistory(nil, false)
	assert.Equal(t, -1, l.CurrentIndex())
	assert.Zero(t, l.Len())
}

func TestLog_ClearHistoryCollapsesToRoot(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{Value: 42})
	reduceN(l, 3)

	l.ClearHistory()

	require.Equal(t, 1, l.Len())
	root := l.History()[0]
	assert.True(t, root.IsRoot())
	assert.Equal(t, 42, root.State.Value)
	assert.Equal(t, 0, root.Index)
	assert.Equal(t, 0, l.CurrentIndex())

	// Idempotent.
	l.ClearHistory()
	assert.Equal(t, 1, l.Len())
}

func TestLog_ClearHistoryWithoutRoot(t *testing.T) {
	l := newTestLog()
	l.LoadHistory([]Snapshot[counter]{
		{ID: "a", State: counter{Value: 1}, Intent: "step-1"},
	}, true)

	l.ClearHistory()

	assert.Zero(t, l.Len())
	assert.Equal(t, -1, l.CurrentIndex())
}

func TestLog_HistoryReturnsCopy(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})
	reduceN(l, 1)

	entries := l.History()
	entries[0].State.Value = 999

	assert.Zero(t, l.History()[0].State.Value)
}

func TestLog_SaveAndLoadFromStorage(t *testing.T) {
	storage := NewMemoryStorage[counter]()
	l := newTestLog(WithStorage[counter](storage))
	l.Initialize(counter{})
	reduceN(l, 2)

	ctx := context.Background()
	require.NoError(t, l.Save(ctx))

	restored := newTestLog(WithStorage[counter](storage))
	require.NoError(t, restored.LoadFrom(ctx))

	require.Equal(t, 3, restored.Len())
	assert.Equal(t, 2, restored.CurrentIndex())
	assert.Equal(t, 2, restored.History()[2].State.Value)
}

func TestLog_SaveWithoutStorageIsNoOp(t *testing.T) {
	l := newTestLog()
	l.Initialize(counter{})
	assert.NoError(t, l.Save(context.Background()))
	assert.NoError(t, l.LoadFrom(context.Background()))
}

func TestLog_StorageFailureWrapped(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	l := newTestLog(
		WithStorage[counter](failingStorage[counter]{}),
		WithErrorHandler[counter](func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}))
	l.Initialize(counter{})

	err := l.Save(context.Background())
	require.Error(t, err)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "save", storageErr.Op)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, errs, 1)
}

type failingStorage[S any] struct{}

func (failingStorage[S]) Save(context.Context, []Snapshot[S]) error {
	return fmt.Errorf("disk full")
}

func (failingStorage[S]) Load(context.Context) ([]Snapshot[S], error) {
	return nil, fmt.Errorf("disk gone")
}

func (failingStorage[S]) Clear(context.Context) error {
	return fmt.Errorf("disk stuck")
}

func TestLog_AsStoreMiddleware(t *testing.T) {
	l := newTestLog(WithMaxSize[counter](10))

	s := keel.New(counter{}, func(state counter, intent keel.Intent) counter {
		if n, ok := intent.(int); ok {
			state.Value += n
		}
		return state
	}, keel.WithMiddleware[counter](l))
	defer s.Close()

	s.Dispatch(1)
	s.Dispatch(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Quiesce(ctx))

	require.Equal(t, 3, l.Len())
	assert.Equal(t, 3, s.State().Value)

	// Rewind to after the first dispatch.
	require.True(t, l.RestoreStateAt(1, s.RestoreState))
	assert.Equal(t, 1, s.State().Value)
	assert.Equal(t, 1, l.CurrentIndex())

	// New dispatches record again from the restored point.
	s.Dispatch(5)
	require.NoError(t, s.Quiesce(ctx))
	assert.Equal(t, 6, s.State().Value)
	assert.Equal(t, 4, l.Len())
}
