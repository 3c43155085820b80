package keel

import "log/slog"

// Middleware observes the dispatch pipeline at four points. Hooks are
// invoked synchronously on the store's loop goroutine, in registration
// order, before the pipeline proceeds - a slow hook delays the whole
// pipeline. Hook order is deterministic within one dispatch but interleaves
// arbitrarily across concurrent effect feedback.
type Middleware[S any] interface {
	// OnIntent fires before the intent is reduced.
	OnIntent(intent Intent)
	// OnStateReduced fires after the new state has been published.
	OnStateReduced(state S, intent Intent)
	// OnSideEffect fires after effect-map lookup, before execution.
	OnSideEffect(effect Effect[S], intent Intent)
	// OnSideEffectResult fires when an effect's result re-enters the loop,
	// before the result is interpreted.
	OnSideEffectResult(result Result, intent Intent)
}

// Initializer is implemented by middleware that must seed state once,
// right after store construction (the history log's root snapshot, for
// example). Invoked asynchronously on the loop goroutine, before any
// intent is processed.
type Initializer[S any] interface {
	Initialize(initialState S)
}

// MiddlewareFuncs adapts a set of optional functions to the Middleware
// interface. Nil fields are skipped.
type MiddlewareFuncs[S any] struct {
	Intent           func(intent Intent)
	StateReduced     func(state S, intent Intent)
	SideEffect       func(effect Effect[S], intent Intent)
	SideEffectResult func(result Result, intent Intent)
}

func (m MiddlewareFuncs[S]) OnIntent(intent Intent) {
	if m.Intent != nil {
		m.Intent(intent)
	}
}

func (m MiddlewareFuncs[S]) OnStateReduced(state S, intent Intent) {
	if m.StateReduced != nil {
		m.StateReduced(state, intent)
	}
}

func (m MiddlewareFuncs[S]) OnSideEffect(effect Effect[S], intent Intent) {
	if m.SideEffect != nil {
		m.SideEffect(effect, intent)
	}
}

func (m MiddlewareFuncs[S]) OnSideEffectResult(result Result, intent Intent) {
	if m.SideEffectResult != nil {
		m.SideEffectResult(result, intent)
	}
}

// LoggingMiddleware logs every pipeline hook at Debug with structured
// fields. Intents and states are logged as values; callers with large
// states should keep this middleware out of production wiring or supply a
// handler that drops Debug records.
type LoggingMiddleware[S any] struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a logging middleware. A nil logger uses
// slog.Default().
func NewLoggingMiddleware[S any](logger *slog.Logger) *LoggingMiddleware[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware[S]{logger: logger}
}

func (l *LoggingMiddleware[S]) OnIntent(intent Intent) {
	l.logger.Debug("intent dispatched", "intent", intent)
}

func (l *LoggingMiddleware[S]) OnStateReduced(state S, intent Intent) {
	l.logger.Debug("state reduced", "intent", intent, "state", state)
}

func (l *LoggingMiddleware[S]) OnSideEffect(effect Effect[S], intent Intent) {
	l.logger.Debug("side effect resolved", "intent", intent)
}

func (l *LoggingMiddleware[S]) OnSideEffectResult(result Result, intent Intent) {
	l.logger.Debug("side effect result", "intent", intent, "result", result.Kind().String())
}
