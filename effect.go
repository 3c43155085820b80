package keel

import (
	"context"
	"sync"
	"time"
)

// Effect is an asynchronous unit of work triggered by an intent, executed
// outside the pure reduction step.
//
// Effects are expected to catch their own failures and encode them as a
// follow-up intent carrying a failure payload; the store does not translate
// effect errors. A panic escaping an effect is recovered by the store and
// reported through its error handler.
type Effect[S any] interface {
	Run(ctx context.Context, state S, intent Intent) Result
}

// EffectFunc adapts a plain function to the Effect interface.
type EffectFunc[S any] func(ctx context.Context, state S, intent Intent) Result

// Run invokes the function.
func (f EffectFunc[S]) Run(ctx context.Context, state S, intent Intent) Result {
	return f(ctx, state, intent)
}

// EffectMap resolves the effect for a dispatched intent. It is evaluated
// once per dispatch; returning nil means no effect is mapped.
type EffectMap[S any] func(intent Intent) Effect[S]

// EffectOf wraps an async function returning an optional follow-up intent:
// a non-nil return becomes NewIntent, nil becomes NoOp.
func EffectOf[S any](fn func(ctx context.Context, state S, intent Intent) Intent) Effect[S] {
	return EffectFunc[S](func(ctx context.Context, state S, intent Intent) Result {
		if followup := fn(ctx, state, intent); followup != nil {
			return NewIntent(followup)
		}
		return NoOp()
	})
}

// NoEffect returns an effect that always produces NoOp. Useful as a
// default or placeholder in effect maps.
func NoEffect[S any]() Effect[S] {
	return EffectFunc[S](func(context.Context, S, Intent) Result {
		return NoOp()
	})
}

// StreamEffect wraps a function producing a lazy intent stream (finite or
// infinite, not restartable) as a NewIntents result.
func StreamEffect[S any](fn func(ctx context.Context, state S) IntentStream) Effect[S] {
	return EffectFunc[S](func(ctx context.Context, state S, _ Intent) Result {
		return NewIntents(fn(ctx, state))
	})
}

// Parallel fans out to all given effects concurrently, waits for every one
// to finish, and folds their results left-to-right with Combine starting
// from NoOp. Nil entries are dropped.
//
// The folded outcome is normalized to an intent stream: a NewIntents result
// passes through, a NewIntent is promoted to a singleton stream, and
// anything else (NoOp, navigation, UI event) normalizes to an EMPTY
// NewIntents. Callers composing in parallel always get a (possibly empty)
// intent stream back, never a plain NoOp - with zero or all-nil inputs the
// result is an empty stream.
func Parallel[S any](effects ...Effect[S]) Effect[S] {
	live := make([]Effect[S], 0, len(effects))
	for _, e := range effects {
		if e != nil {
			live = append(live, e)
		}
	}

	return EffectFunc[S](func(ctx context.Context, state S, intent Intent) Result {
		results := make([]Result, len(live))
		var wg sync.WaitGroup
		for i, e := range live {
			wg.Add(1)
			go func(i int, e Effect[S]) {
				defer wg.Done()
				results[i] = e.Run(ctx, state, intent)
			}(i, e)
		}
		wg.Wait()

		combined := NoOp()
		for _, r := range results {
			combined = Combine(combined, r)
		}

		switch combined.Kind() {
		case KindNewIntents:
			return combined
		case KindNewIntent:
			return NewIntents(SingletonStream(combined.Intent()))
		default:
			return NewIntents(EmptyStream())
		}
	})
}

// DebouncedEffect wraps an effect with cancel-then-delay execution,
// identified by an explicit caller-supplied key. The key defines the
// cancellation domain: dispatches resolving to debounced effects with the
// same key cancel each other's pending runs, even across separately
// constructed wrappers.
//
// Stores recognize this type and apply the debounce protocol; calling Run
// directly executes the wrapped effect immediately, without delay.
type DebouncedEffect[S any] struct {
	key    string
	delay  time.Duration
	effect Effect[S]
}

// Debounce wraps effect so that of N triggers fired within delay of each
// other, at most one wrapped execution runs to completion - and it observes
// the published state as of the last trigger's delay expiry, not the state
// captured at dispatch time.
//
// A zero delay keeps cancel-then-schedule semantics: the pending run for
// the key is still cancelled and the new run fires on the next timer tick.
func Debounce[S any](key string, delay time.Duration, effect Effect[S]) *DebouncedEffect[S] {
	return &DebouncedEffect[S]{key: key, delay: delay, effect: effect}
}

// Key returns the cancellation-domain key.
func (d *DebouncedEffect[S]) Key() string { return d.key }

// Delay returns the debounce delay.
func (d *DebouncedEffect[S]) Delay() time.Duration { return d.delay }

// Effect returns the wrapped effect.
func (d *DebouncedEffect[S]) Effect() Effect[S] { return d.effect }

// Run executes the wrapped effect immediately. The debounce protocol only
// applies when the wrapper is returned from an EffectMap to a Store.
func (d *DebouncedEffect[S]) Run(ctx context.Context, state S, intent Intent) Result {
	return d.effect.Run(ctx, state, intent)
}
