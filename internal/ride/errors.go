package ride

import "fmt"

// The three failure families the booking flow distinguishes. None of them is
// fatal: a ValidationError is surfaced inline, a WriteError becomes a
// retryable banner without touching local state, and a SubscriptionError
// tears down the affected stream only.

// ValidationError marks malformed input: bad coordinates, a missing auth
// identity, a zero-distance route.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// WriteError wraps a failed create or update against the remote store. The
// caller must not assume the write landed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ride %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SubscriptionError reports a broken push stream. Streams are not
// auto-retried; the subscriber decides whether to resubscribe.
type SubscriptionError struct {
	Doc string
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %s broken: %v", e.Doc, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
