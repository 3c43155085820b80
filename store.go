package keel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// Reducer is a pure transition function producing the next state from the
// current state and an intent. It must not perform I/O or asynchronous
// work: same inputs always yield the same output, with no observable side
// effects. The store replaces the state value on every reduction; it is
// never mutated in place.
type Reducer[S any] func(state S, intent Intent) S

// Option configures a Store at construction time.
type Option[S any] func(*Store[S])

// WithEffects sets the effect map consulted after every reduction.
func WithEffects[S any](effects EffectMap[S]) Option[S] {
	return func(s *Store[S]) {
		s.effects = effects
	}
}

// WithMiddleware appends middleware in registration order. Hooks fire in
// this order on every pipeline step.
func WithMiddleware[S any](mw ...Middleware[S]) Option[S] {
	return func(s *Store[S]) {
		s.middlewares = append(s.middlewares, mw...)
	}
}

// WithLogger sets the store's structured logger. Defaults to slog.Default().
func WithLogger[S any](logger *slog.Logger) Option[S] {
	return func(s *Store[S]) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithErrorHandler sets the callback receiving recovered panics, replay
// failures and purity violations. Errors are additionally logged.
func WithErrorHandler[S any](fn func(error)) Option[S] {
	return func(s *Store[S]) {
		s.onError = fn
	}
}

// Store is the dispatch engine: it owns one state value and coordinates
// reducer, effect map, middleware chain and debounce bookkeeping behind a
// single-consumer event loop.
//
// Thread-safety model:
//   - Dispatch, State, SubscribeState, RestoreState: safe from any goroutine
//   - reductions and middleware hooks: loop goroutine only
//   - effects: one goroutine each, unbounded concurrency
//
// One store per logical screen/session; Close releases the loop.
type Store[S any] struct {
	reducer     Reducer[S]
	effects     EffectMap[S]
	middlewares []Middleware[S]
	logger      *slog.Logger
	onError     func(error)

	queue    *eventQueue
	debounce *debouncer[S]

	stateMu sync.RWMutex
	state   S

	subMu   sync.Mutex
	subs    map[int]chan S
	nextSub int

	navCh chan any
	uiCh  chan any

	// pending counts queued events, running effect goroutines, stream
	// drains and scheduled debounce jobs. Zero means quiescent.
	pending atomic.Int64

	// reducing holds the goroutine id currently executing the reducer,
	// zero otherwise. Used to flag impure reducers that dispatch.
	reducing atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// New constructs a store and starts its event loop. Middleware implementing
// Initializer is initialized asynchronously on the loop goroutine before
// the first intent is processed.
func New[S any](initial S, reducer Reducer[S], opts ...Option[S]) *Store[S] {
	s := &Store[S]{
		reducer: reducer,
		logger:  slog.Default(),
		queue:   newEventQueue(),
		state:   initial,
		subs:    make(map[int]chan S),
		navCh:   make(chan any, 1),
		uiCh:    make(chan any, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.debounce = newDebouncer[S](s)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	return s
}

// Dispatch submits an intent for processing and returns immediately.
// Safe from any goroutine. Returns false if the store is closed.
func (s *Store[S]) Dispatch(intent Intent) bool {
	if gid := goid.Get(); gid != 0 && gid == s.reducing.Load() {
		s.reportError(&ReentrantDispatchError{Intent: intent})
	}
	return s.enqueue(event{kind: eventIntent, intent: intent})
}

// State returns the latest published state.
func (s *Store[S]) State() S {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// RestoreState directly overwrites the published state, bypassing the
// reducer, effect and middleware pipeline entirely. Subscribers still see
// the new value. Intended as the apply function for time-travel
// restoration; not for ordinary updates.
func (s *Store[S]) RestoreState(state S) {
	s.publish(state)
}

// Navigation returns the one-shot navigation event channel: capacity 1,
// drop-oldest on overflow.
func (s *Store[S]) Navigation() <-chan any { return s.navCh }

// UIEvents returns the one-shot transient UI event channel: capacity 1,
// drop-oldest on overflow.
func (s *Store[S]) UIEvents() <-chan any { return s.uiCh }

// SubscribeState returns a channel that receives the current state
// immediately and every published state afterwards, with capacity 1 and
// drop-oldest overflow. The cancel function unregisters and closes the
// channel.
func (s *Store[S]) SubscribeState() (<-chan S, func()) {
	ch := make(chan S, 1)
	ch <- s.State()

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Quiesce blocks until all dispatched work has settled: the queue is
// drained, no effect goroutine is running, no intent stream is being
// consumed and no debounce job is pending. Intended for teardown and
// deterministic tests. Never returns while an unbounded intent stream is
// live.
func (s *Store[S]) Quiesce(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if s.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close cancels pending debounce jobs, stops the loop and waits for it to
// exit. Running effects are not interrupted beyond context cancellation;
// their feedback is discarded. Idempotent.
func (s *Store[S]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.debounce.cancelAll()
	s.cancel()
	s.queue.Close()
	<-s.done
}

// run is the single-consumer event loop. All reductions and middleware
// hooks happen here, so state transitions are strictly ordered per store.
func (s *Store[S]) run(ctx context.Context) {
	defer close(s.done)

	s.logger.Debug("store loop starting")
	initial := s.State()
	for _, mw := range s.middlewares {
		if init, ok := mw.(Initializer[S]); ok {
			init.Initialize(initial)
		}
	}

	for {
		ev, ok := s.queue.TryDequeue()
		if ok {
			s.processEvent(ctx, ev)
			s.pending.Add(-1)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Debug("store loop stopping", "reason", "closed")
			s.queue.Close()
			return

		case <-s.queue.Wait():
			// The signal channel closes when the queue closes, so an
			// empty queue here means closed and drained.
			if s.queue.Len() == 0 {
				s.logger.Debug("store loop stopping", "reason", "queue drained")
				return
			}
		}
	}
}

func (s *Store[S]) processEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case eventIntent:
		s.processIntent(ctx, ev.intent)
	case eventResult:
		s.handleResult(ctx, ev.result, ev.intent)
	}
}

// processIntent runs the dispatch algorithm for one intent:
// middleware OnIntent, reduce from the current state, publish, middleware
// OnStateReduced, effect lookup, middleware OnSideEffect, then immediate
// or debounced execution. The effect observes the pre-reduction snapshot
// state; only a debounced run re-reads the state at delay expiry.
func (s *Store[S]) processIntent(ctx context.Context, intent Intent) {
	for _, mw := range s.middlewares {
		mw.OnIntent(intent)
	}

	snapshot := s.State()
	newState, ok := s.reduce(snapshot, intent)
	if !ok {
		return
	}
	s.publish(newState)

	for _, mw := range s.middlewares {
		mw.OnStateReduced(newState, intent)
	}

	if s.effects == nil {
		return
	}
	effect := s.effects(intent)
	if effect == nil {
		return
	}

	for _, mw := range s.middlewares {
		mw.OnSideEffect(effect, intent)
	}

	if d, ok := effect.(*DebouncedEffect[S]); ok {
		s.debounce.schedule(ctx, d, intent)
		return
	}
	s.launchEffect(ctx, effect, intent, snapshot)
}

// reduce invokes the reducer with panic recovery. A panicking reducer
// aborts the dispatch and is reported; the loop continues.
func (s *Store[S]) reduce(state S, intent Intent) (next S, ok bool) {
	s.reducing.Store(goid.Get())
	defer s.reducing.Store(0)
	defer func() {
		if r := recover(); r != nil {
			s.reportError(&PanicError{Stage: "reducer", Value: r})
			ok = false
		}
	}()
	return s.reducer(state, intent), true
}

// publish atomically replaces the state and notifies subscribers.
func (s *Store[S]) publish(state S) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()

	s.subMu.Lock()
	for _, ch := range s.subs {
		sendDropOldest(ch, state)
	}
	s.subMu.Unlock()
}

// launchEffect runs an effect on its own goroutine and feeds its result
// back into the loop as an eventResult.
func (s *Store[S]) launchEffect(ctx context.Context, effect Effect[S], intent Intent, state S) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				s.reportError(&PanicError{Stage: "effect", Value: r})
			}
		}()
		result := effect.Run(ctx, state, intent)
		s.feedback(result, intent)
	}()
}

// feedback re-enters the loop with an effect result. Used by immediate,
// parallel and debounced execution paths alike so every result passes
// through OnSideEffectResult and interpretation in order.
func (s *Store[S]) feedback(result Result, intent Intent) {
	s.enqueue(event{kind: eventResult, result: result, intent: intent})
}

func (s *Store[S]) handleResult(ctx context.Context, result Result, intent Intent) {
	for _, mw := range s.middlewares {
		mw.OnSideEffectResult(result, intent)
	}
	s.interpret(ctx, result)
}

// interpret routes a result: derived intents re-enter the dispatch
// algorithm from the top (by enqueueing, never recursion); navigation and
// UI events publish to their one-shot channels; NoOp does nothing.
func (s *Store[S]) interpret(ctx context.Context, result Result) {
	switch result.Kind() {
	case KindNoOp:

	case KindNewIntent:
		s.Dispatch(result.Intent())

	case KindNewIntents:
		s.drainStream(ctx, result.Stream())

	case KindNavigation:
		sendDropOldest(s.navCh, result.Event())

	case KindShowUIEvent:
		sendDropOldest(s.uiCh, result.Event())
	}
}

// drainStream consumes a lazy intent stream on its own goroutine,
// re-dispatching every element. The stream may be unbounded; consumption
// stops when the store closes.
func (s *Store[S]) drainStream(ctx context.Context, stream IntentStream) {
	if stream == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Add(-1)
		for intent := range stream {
			if ctx.Err() != nil {
				return
			}
			if !s.Dispatch(intent) {
				return
			}
		}
	}()
}

func (s *Store[S]) enqueue(ev event) bool {
	s.pending.Add(1)
	if !s.queue.Enqueue(ev) {
		s.pending.Add(-1)
		return false
	}
	return true
}

func (s *Store[S]) reportError(err error) {
	s.logger.Error("store error", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// sendDropOldest delivers v on a capacity-1 channel, evicting the stale
// value when the buffer is full. A slow or absent receiver loses old
// values; the sender never blocks.
func sendDropOldest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
