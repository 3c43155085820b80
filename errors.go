package keel

import "fmt"

// PanicError wraps a panic recovered from application code running inside
// a store: a reducer on the loop goroutine or an effect on its own
// goroutine. The affected dispatch is dropped and processing continues.
type PanicError struct {
	// Stage names where the panic escaped: "reducer" or "effect".
	Stage string
	// Value is the recovered panic value.
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("keel: panic in %s: %v", e.Stage, e.Value)
}

// ReentrantDispatchError reports a Dispatch call made from inside the
// running reducer. Reducers must be pure; the intent is still enqueued,
// but the violation is surfaced through the store's error handler.
type ReentrantDispatchError struct {
	Intent Intent
}

func (e *ReentrantDispatchError) Error() string {
	return fmt.Sprintf("keel: Dispatch(%v) called from inside a reducer; reducers must be pure", e.Intent)
}
