package keel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMiddlewareFuncs_NilHooksSkipped(t *testing.T) {
	var mw MiddlewareFuncs[counter]

	assert.NotPanics(t, func() {
		mw.OnIntent("x")
		mw.OnStateReduced(counter{}, "x")
		mw.OnSideEffect(NoEffect[counter](), "x")
		mw.OnSideEffectResult(NoOp(), "x")
	})
}

func TestMiddlewareFuncs_SetHooksInvoked(t *testing.T) {
	var got []string
	mw := MiddlewareFuncs[counter]{
		Intent:           func(Intent) { got = append(got, "intent") },
		SideEffectResult: func(Result, Intent) { got = append(got, "result") },
	}

	mw.OnIntent("x")
	mw.OnStateReduced(counter{}, "x")
	mw.OnSideEffectResult(NoOp(), "x")

	assert.Equal(t, []string{"intent", "result"}, got)
}

func TestLoggingMiddleware_EmitsDebugRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mw := NewLoggingMiddleware[counter](logger)

	mw.OnIntent("go")
	mw.OnStateReduced(counter{Value: 1}, "go")
	mw.OnSideEffect(NoEffect[counter](), "go")
	mw.OnSideEffectResult(Navigation("away"), "go")

	out := buf.String()
	assert.Contains(t, out, "intent dispatched")
	assert.Contains(t, out, "state reduced")
	assert.Contains(t, out, "side effect resolved")
	assert.Contains(t, out, "side effect result")
	assert.Contains(t, out, "navigation")
}

func TestLoggingMiddleware_NilLoggerDefaults(t *testing.T) {
	mw := NewLoggingMiddleware[counter](nil)
	assert.NotPanics(t, func() {
		mw.OnIntent("x")
	})
}

func TestLoggingMiddleware_InStore(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := New(counter{}, countReducer,
		WithLogger[counter](logger),
		WithMiddleware[counter](NewLoggingMiddleware[counter](logger)))
	defer s.Close()

	s.Dispatch(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Quiesce(ctx)

	assert.Contains(t, buf.String(), "intent dispatched")
}
