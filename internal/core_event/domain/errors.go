package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence signals that the outbox or processed-message store could
	// not be written. Surfaced synchronously; the surrounding business
	// transaction must abort (fail closed).
	ErrPersistence = errors.New("event store persistence failure")

	// ErrTransientPublish signals a broker timeout, rejection or unavailability.
	// Retried by the relay up to the attempt ceiling; never surfaced to the
	// original caller, who has already committed.
	ErrTransientPublish = errors.New("transient publish failure")

	// ErrPermanentPublish signals an unpublishable record (malformed envelope,
	// unregistered schema). Dead-lettered immediately, no retry.
	ErrPermanentPublish = errors.New("permanent publish failure")

	// ErrDuplicateMessage is the normal idempotency-guard outcome for a
	// redelivered message. It is not a failure.
	ErrDuplicateMessage = errors.New("message already processed")
)

// TransitionError reports an illegal delivery state transition. It indicates a
// defect (or a concurrent conflicting transition lost a compare-and-swap) and
// is never retried.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is a TransitionError.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
