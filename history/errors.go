package history

import "fmt"

// ReplayError reports a panic raised while applying a restored snapshot.
// It is routed to the log's error handler; RestoreStateAt reports failure
// via its boolean return instead of propagating.
type ReplayError struct {
	// Index is the snapshot index whose restoration failed.
	Index int
	// Value is the recovered panic value.
	Value any
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("history: restore at index %d failed: %v", e.Index, e.Value)
}

// StorageError wraps a persistence failure with the failing operation
// ("save", "load" or "clear"). Persistence is best-effort and never fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
