package domain

import "fmt"

// ValidationError means a required identifier was missing or malformed. The
// event or action is dropped with zero side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// StoreWriteError is a failed counter store write. Logged and swallowed.
type StoreWriteError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("counter store %s on %s failed: %v", e.Op, e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// RollupWriteError is a failed increment on one rollup subject. It never rolls
// back the lead write; reconciliation heals the drift.
type RollupWriteError struct {
	Subject Subject
	Err     error
}

func (e *RollupWriteError) Error() string {
	return fmt.Sprintf("rollup write on %s failed: %v", e.Subject, e.Err)
}

func (e *RollupWriteError) Unwrap() error { return e.Err }

// SourceFetchError is a failed event stream read during reconciliation. The
// whole run is aborted.
type SourceFetchError struct {
	Offset int
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("event source fetch at offset %d failed: %v", e.Offset, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }
