package keel

import (
	"fmt"
	"iter"
	"sync"
)

// Intent is an opaque, application-defined description of something that
// happened: a user action or an internally produced follow-up event.
// Intents are transient; they are not retained beyond processing except
// inside history snapshots.
type Intent = any

// IntentStream is a lazy, possibly unbounded sequence of intents.
// Streams are single-use: once consumed they cannot be restarted.
type IntentStream = iter.Seq[Intent]

// ResultKind identifies the shape of a Result.
type ResultKind int

const (
	// KindNoOp is the identity outcome: nothing to do.
	KindNoOp ResultKind = iota
	// KindNewIntent carries exactly one follow-up intent.
	KindNewIntent
	// KindNewIntents carries a lazy stream of follow-up intents.
	KindNewIntents
	// KindNavigation carries an opaque navigation event.
	KindNavigation
	// KindShowUIEvent carries an opaque transient UI event.
	KindShowUIEvent
)

// String returns the lowercase tag name for logging.
func (k ResultKind) String() string {
	switch k {
	case KindNoOp:
		return "noop"
	case KindNewIntent:
		return "new_intent"
	case KindNewIntents:
		return "new_intents"
	case KindNavigation:
		return "navigation"
	case KindShowUIEvent:
		return "show_ui_event"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Result is the tagged outcome of an effect. Exactly one shape is populated
// at a time; Combine merges two results into one.
type Result struct {
	kind   ResultKind
	intent Intent
	stream IntentStream
	event  any
}

// NoOp returns the identity result.
func NoOp() Result {
	return Result{kind: KindNoOp}
}

// NewIntent returns a result carrying a single follow-up intent.
func NewIntent(intent Intent) Result {
	return Result{kind: KindNewIntent, intent: intent}
}

// NewIntents returns a result carrying a lazy stream of follow-up intents.
// A nil stream is treated as empty.
func NewIntents(stream IntentStream) Result {
	if stream == nil {
		stream = EmptyStream()
	}
	return Result{kind: KindNewIntents, stream: stream}
}

// Navigation returns a result carrying an opaque navigation event.
func Navigation(event any) Result {
	return Result{kind: KindNavigation, event: event}
}

// ShowUIEvent returns a result carrying an opaque transient UI event.
func ShowUIEvent(event any) Result {
	return Result{kind: KindShowUIEvent, event: event}
}

// Kind returns the result's tag.
func (r Result) Kind() ResultKind { return r.kind }

// Intent returns the follow-up intent of a KindNewIntent result.
func (r Result) Intent() Intent { return r.intent }

// Stream returns the intent stream of a KindNewIntents result.
func (r Result) Stream() IntentStream { return r.stream }

// Event returns the opaque event of a navigation or UI-event result.
func (r Result) Event() any { return r.event }

func (r Result) String() string {
	return "result:" + r.kind.String()
}

// Combine merges two effect outcomes. It is the fold operator used by
// parallel fan-out and, implicitly, by recursive dispatch.
//
// Rules:
//   - NoOp is the identity element.
//   - Intent-producing results always win over navigation/UI events.
//   - Two intent-producing results merge into a single NewIntents stream.
//     Ordering across the merged sources is not guaranteed: the sources
//     are drained concurrently and may interleave.
//   - Combining NewIntent with NoOp on the right promotes it to a
//     singleton NewIntents.
func Combine(a, b Result) Result {
	switch a.kind {
	case KindNoOp:
		return b

	case KindNewIntent:
		switch b.kind {
		case KindNewIntent:
			return NewIntents(MergeStreams(SingletonStream(a.intent), SingletonStream(b.intent)))
		case KindNewIntents:
			return NewIntents(MergeStreams(SingletonStream(a.intent), b.stream))
		default:
			// NoOp, Navigation, ShowUIEvent: the intent survives, promoted.
			return NewIntents(SingletonStream(a.intent))
		}

	case KindNewIntents:
		switch b.kind {
		case KindNewIntent:
			return NewIntents(MergeStreams(a.stream, SingletonStream(b.intent)))
		case KindNewIntents:
			return NewIntents(MergeStreams(a.stream, b.stream))
		default:
			return a
		}

	default: // Navigation, ShowUIEvent
		switch b.kind {
		case KindNewIntent, KindNewIntents:
			return b
		default:
			// NoOp or another event: first event wins.
			return a
		}
	}
}

// SingletonStream returns a stream yielding exactly one intent.
func SingletonStream(intent Intent) IntentStream {
	return func(yield func(Intent) bool) {
		yield(intent)
	}
}

// EmptyStream returns a stream yielding nothing.
func EmptyStream() IntentStream {
	return func(func(Intent) bool) {}
}

// MergeStreams fans in multiple streams into one. Each source is drained
// on its own goroutine, so emission order across sources is unspecified.
// When the consumer stops early, all producers are released.
func MergeStreams(streams ...IntentStream) IntentStream {
	return func(yield func(Intent) bool) {
		out := make(chan Intent)
		done := make(chan struct{})
		defer close(done)

		var wg sync.WaitGroup
		for _, s := range streams {
			if s == nil {
				continue
			}
			wg.Add(1)
			go func(s IntentStream) {
				defer wg.Done()
				for intent := range s {
					select {
					case out <- intent:
					case <-done:
						return
					}
				}
			}(s)
		}
		go func() {
			wg.Wait()
			close(out)
		}()

		for intent := range out {
			if !yield(intent) {
				return
			}
		}
	}
}

// CollectStream drains a finite stream into a slice. Intended for tests
// and diagnostics; calling it on an unbounded stream never returns.
func CollectStream(stream IntentStream) []Intent {
	if stream == nil {
		return nil
	}
	var intents []Intent
	for intent := range stream {
		intents = append(intents, intent)
	}
	return intents
}
