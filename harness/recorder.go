package harness

import (
	"sync"

	"github.com/avasker/keel"
	"github.com/avasker/keel/internal/testutil"
)

// Trace event types.
const (
	EventIntent       = "intent"
	EventReduced      = "reduced"
	EventEffectResult = "effect_result"
)

// TraceEvent is one recorded pipeline observation, stamped with a
// monotonic sequence number from a logical clock - never a wall clock, so
// traces replay byte-identically.
type TraceEvent struct {
	Seq    int64  `json:"seq" yaml:"seq"`
	Type   string `json:"type" yaml:"type"`
	Intent any    `json:"intent,omitempty" yaml:"intent,omitempty"`
	State  any    `json:"state,omitempty" yaml:"state,omitempty"`
	Result string `json:"result,omitempty" yaml:"result,omitempty"`
}

// Recorder is a middleware that records dispatched intents, reductions
// and effect results. Effect lookups (OnSideEffect) are deliberately not
// recorded: effect values have no stable serial form.
type Recorder[S any] struct {
	mu     sync.Mutex
	clock  *testutil.SeqClock
	events []TraceEvent
}

// NewRecorder creates an empty recorder with a fresh logical clock.
func NewRecorder[S any]() *Recorder[S] {
	return &Recorder[S]{clock: testutil.NewSeqClock()}
}

func (r *Recorder[S]) OnIntent(intent keel.Intent) {
	r.append(TraceEvent{Type: EventIntent, Intent: intent})
}

func (r *Recorder[S]) OnStateReduced(state S, intent keel.Intent) {
	r.append(TraceEvent{Type: EventReduced, Intent: intent, State: state})
}

func (r *Recorder[S]) OnSideEffect(keel.Effect[S], keel.Intent) {}

func (r *Recorder[S]) OnSideEffectResult(result keel.Result, intent keel.Intent) {
	r.append(TraceEvent{Type: EventEffectResult, Intent: intent, Result: result.Kind().String()})
}

func (r *Recorder[S]) append(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.Seq = r.clock.Next()
	r.events = append(r.events, ev)
}

// Trace returns a copy of the recorded events.
func (r *Recorder[S]) Trace() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}
