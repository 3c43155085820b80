// Package harness provides a conformance harness for keel stores:
// scripted intent flows executed against a real store, recorded as
// deterministic traces and compared against golden files.
//
// Determinism: reductions are serialized by the store's loop, but effects
// run concurrently. Scenarios that trigger effects should interleave
// Quiesce steps wherever a stable trace order matters; without them,
// feedback events from concurrent effects may interleave arbitrarily.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/avasker/keel"
	"github.com/avasker/keel/history"
	"github.com/avasker/keel/internal/testutil"
)

// stepTimeout bounds every Quiesce barrier inside a scenario.
const stepTimeout = 10 * time.Second

// Step is one scripted action in a scenario flow.
type Step interface {
	isStep()
}

type dispatchStep struct{ intent keel.Intent }
type quiesceStep struct{}
type restoreStep struct{ index int }
type clearStep struct{}

func (dispatchStep) isStep() {}
func (quiesceStep) isStep()  {}
func (restoreStep) isStep()  {}
func (clearStep) isStep()    {}

// Dispatch submits an intent to the store under test.
func Dispatch(intent keel.Intent) Step { return dispatchStep{intent: intent} }

// Quiesce waits until all dispatched work has settled. Insert between
// dispatches whenever the trace must have a stable order.
func Quiesce() Step { return quiesceStep{} }

// Restore quiesces, then jumps the store to the history snapshot at
// index, bypassing the reducer and effect pipeline.
func Restore(index int) Step { return restoreStep{index: index} }

// Clear quiesces, then collapses the history to its root entry.
func Clear() Step { return clearStep{} }

// Scenario drives a keel store through a scripted intent flow. The store
// is wired with a recording middleware and a history log using
// deterministic IDs and timestamps, so repeated runs produce identical
// traces.
type Scenario[S any] struct {
	// Name uniquely identifies the scenario; it names the golden file.
	Name string

	// Description explains what the scenario validates.
	Description string

	// Initial is the store's initial state.
	Initial S

	// Reducer is the pure transition function under test.
	Reducer keel.Reducer[S]

	// Effects optionally maps intents to effects.
	Effects keel.EffectMap[S]

	// MaxHistory bounds the history log; 0 uses history.DefaultMaxSize.
	MaxHistory int

	// Steps is the scripted flow.
	Steps []Step
}

// Result captures everything a scenario run produced.
type Result[S any] struct {
	FinalState   S
	Trace        []TraceEvent
	History      []history.Snapshot[S]
	CurrentIndex int
}

// Run executes the scenario against a real store and returns the
// recorded outcome. The store is closed before returning.
func Run[S any](scenario *Scenario[S]) (*Result[S], error) {
	if scenario.Name == "" {
		return nil, fmt.Errorf("harness: scenario name is required")
	}
	if scenario.Reducer == nil {
		return nil, fmt.Errorf("harness: scenario %q has no reducer", scenario.Name)
	}

	recorder := NewRecorder[S]()

	histOpts := []history.LogOption[S]{
		history.WithGenerator[S](testutil.NewSeqIDGenerator("snap")),
		history.WithClock[S](testutil.NewTickingClock(time.Unix(0, 0).UTC(), time.Second).Now),
	}
	if scenario.MaxHistory > 0 {
		histOpts = append(histOpts, history.WithMaxSize[S](scenario.MaxHistory))
	}
	log := history.NewLog[S](histOpts...)

	store := keel.New(scenario.Initial, scenario.Reducer,
		keel.WithEffects[S](scenario.Effects),
		keel.WithMiddleware[S](recorder, log),
	)
	defer store.Close()

	for i, step := range scenario.Steps {
		switch st := step.(type) {
		case dispatchStep:
			if !store.Dispatch(st.intent) {
				return nil, fmt.Errorf("harness: step %d: dispatch on closed store", i)
			}

		case quiesceStep:
			if err := quiesce(store); err != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i, err)
			}

		case restoreStep:
			if err := quiesce(store); err != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i, err)
			}
			if !log.RestoreStateAt(st.index, store.RestoreState) {
				return nil, fmt.Errorf("harness: step %d: restore at index %d failed", i, st.index)
			}

		case clearStep:
			if err := quiesce(store); err != nil {
				return nil, fmt.Errorf("harness: step %d: %w", i, err)
			}
			log.ClearHistory()

		default:
			return nil, fmt.Errorf("harness: step %d: unknown step type %T", i, step)
		}
	}

	if err := quiesce(store); err != nil {
		return nil, fmt.Errorf("harness: final quiesce: %w", err)
	}

	return &Result[S]{
		FinalState:   store.State(),
		Trace:        recorder.Trace(),
		History:      log.History(),
		CurrentIndex: log.CurrentIndex(),
	}, nil
}

func quiesce[S any](store *keel.Store[S]) error {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	if err := store.Quiesce(ctx); err != nil {
		return fmt.Errorf("quiesce: %w", err)
	}
	return nil
}
