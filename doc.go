// Package keel implements a unidirectional state-management runtime.
//
// A Store owns a single immutable state value and turns a stream of
// discrete intents into state transitions and asynchronous effects:
//
//	UI -> Dispatch(intent) -> Reducer (pure) -> new state published
//	   -> middleware notified -> effect map lookup -> effect execution
//	   -> Result -> fed-back intents / one-shot events
//
// ARCHITECTURE:
//
// Single-Consumer Actor Loop:
// Each Store runs one goroutine that drains an unbounded FIFO of events.
// All reductions and middleware hook invocations happen on that goroutine,
// so state transitions are strictly ordered per store. Dispatch is
// fire-and-forget from the caller's perspective: it enqueues and returns.
//
// Effects run on their own goroutines with unbounded concurrency. Their
// results are not handled in place - they re-enter the loop as feedback
// events, and any derived intents are re-enqueued rather than processed
// recursively. Long intent chains therefore never grow the stack.
//
// One-shot navigation and UI events are delivered on capacity-1 channels
// with drop-oldest overflow: a slow or absent subscriber loses stale
// events rather than blocking the loop.
//
// ERROR HANDLING: Reducer and effect panics are recovered, reported
// through the store's error handler, and the affected dispatch is dropped.
// Processing continues ("log and continue"); a store never crashes the
// host over application code.
//
// Time travel is provided by the history subpackage, which plugs into the
// middleware chain and records a bounded, restorable snapshot log.
package keel
