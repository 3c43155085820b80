package keel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchState struct {
	Query   string
	Results []string
}

type (
	setQuery   struct{ Q string }
	gotResults struct{ Hits []string }
)

func searchReducer(state searchState, intent Intent) searchState {
	switch in := intent.(type) {
	case setQuery:
		state.Query = in.Q
	case gotResults:
		state.Results = in.Hits
	}
	return state
}

// executions counts debounced effect runs across goroutines.
type executions struct {
	mu      sync.Mutex
	queries []string
}

func (e *executions) record(q string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, q)
}

func (e *executions) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.queries))
	copy(out, e.queries)
	return out
}

func searchEffects(execs *executions, delay time.Duration) EffectMap[searchState] {
	return func(intent Intent) Effect[searchState] {
		if _, ok := intent.(setQuery); !ok {
			return nil
		}
		return Debounce("search", delay, EffectOf(
			func(_ context.Context, state searchState, _ Intent) Intent {
				execs.record(state.Query)
				return gotResults{Hits: []string{state.Query + "-hit"}}
			}))
	}
}

func settleSearch(t *testing.T, s *Store[searchState]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Quiesce(ctx))
}

func TestDebounce_BurstCoalescesToOneExecution(t *testing.T) {
	execs := &executions{}
	s := New(searchState{}, searchReducer,
		WithEffects[searchState](searchEffects(execs, 100*time.Millisecond)))
	defer s.Close()

	// Three triggers inside one debounce window.
	s.Dispatch(setQuery{Q: "k"})
	time.Sleep(30 * time.Millisecond)
	s.Dispatch(setQuery{Q: "ke"})
	time.Sleep(30 * time.Millisecond)
	s.Dispatch(setQuery{Q: "keel"})

	settleSearch(t, s)

	// Exactly one execution, observing the state as of the last trigger's
	// expiry, not a dispatch-time snapshot.
	require.Equal(t, []string{"keel"}, execs.list())
	assert.Equal(t, []string{"keel-hit"}, s.State().Results)
}

func TestDebounce_SeparatedTriggersBothExecute(t *testing.T) {
	execs := &executions{}
	s := New(searchState{}, searchReducer,
		WithEffects[searchState](searchEffects(execs, 20*time.Millisecond)))
	defer s.Close()

	s.Dispatch(setQuery{Q: "first"})
	settleSearch(t, s)
	s.Dispatch(setQuery{Q: "second"})
	settleSearch(t, s)

	assert.Equal(t, []string{"first", "second"}, execs.list())
}

func TestDebounce_ZeroDelayStillCancels(t *testing.T) {
	execs := &executions{}
	s := New(searchState{}, searchReducer,
		WithEffects[searchState](searchEffects(execs, 0)))
	defer s.Close()

	s.Dispatch(setQuery{Q: "a"})
	s.Dispatch(setQuery{Q: "ab"})
	s.Dispatch(setQuery{Q: "abc"})
	settleSearch(t, s)

	// Earlier zero-delay jobs may or may not slip through before their
	// cancellation lands; the final trigger always executes.
	assert.Contains(t, execs.list(), "abc")
}

func TestDebounce_DistinctKeysIndependent(t *testing.T) {
	var mu sync.Mutex
	ran := map[string]int{}
	effects := func(intent Intent) Effect[searchState] {
		key, ok := intent.(string)
		if !ok {
			return nil
		}
		return Debounce(key, 20*time.Millisecond, EffectFunc[searchState](
			func(context.Context, searchState, Intent) Result {
				mu.Lock()
				ran[key]++
				mu.Unlock()
				return NoOp()
			}))
	}

	s := New(searchState{}, searchReducer, WithEffects[searchState](effects))
	defer s.Close()

	s.Dispatch("alpha")
	s.Dispatch("beta")
	settleSearch(t, s)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, ran["alpha"])
	assert.Equal(t, 1, ran["beta"])
}

func TestDebounce_CloseCancelsPending(t *testing.T) {
	execs := &executions{}
	s := New(searchState{}, searchReducer,
		WithEffects[searchState](searchEffects(execs, time.Hour)))

	s.Dispatch(setQuery{Q: "never"})

	// Let the job get scheduled before closing.
	deadline := time.After(time.Second)
	for s.debounce.pendingCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("debounce job never scheduled")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	s.Close()
	assert.Empty(t, execs.list(), "pending job must not execute after close")
}

func TestDebounce_JobDeregisteredAfterRun(t *testing.T) {
	execs := &executions{}
	s := New(searchState{}, searchReducer,
		WithEffects[searchState](searchEffects(execs, 10*time.Millisecond)))
	defer s.Close()

	s.Dispatch(setQuery{Q: "once"})
	settleSearch(t, s)

	assert.Zero(t, s.debounce.pendingCount())
}
