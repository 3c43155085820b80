package keel

import "sync"

// eventKind distinguishes loop event kinds.
type eventKind int

const (
	// eventIntent is a freshly dispatched intent entering the pipeline.
	eventIntent eventKind = iota + 1
	// eventResult is an effect outcome fed back into the pipeline.
	eventResult
)

// event is one unit of work for the store's loop goroutine.
type event struct {
	kind   eventKind
	intent Intent
	result Result
}

// eventQueue is a thread-safe FIFO feeding the single-consumer loop.
//
// The queue is unbounded so that cascading effect feedback can enqueue
// arbitrarily many derived intents without blocking the loop that has to
// drain them. Enqueue is safe from any goroutine; dequeuing happens only
// on the loop goroutine.
//
// A buffered size-1 signal channel coalesces availability notifications
// and lets the loop wait with context awareness.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Non-blocking: the size-1 buffer coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]

	// Zero the slot so the backing array doesn't retain intent/result
	// references until reallocation.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the signal channel for select-based waiting. The channel
// closes when the queue closes, waking all waiters.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close marks the queue closed and wakes waiters. Idempotent.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
