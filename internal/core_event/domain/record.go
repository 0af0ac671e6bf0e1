package domain

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of an outbox record. Records are owned by the
// originating transaction only at creation; every later transition is made by
// the relay through a conditional update.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusPublishing   Status = "PUBLISHING"
	StatusPublished    Status = "PUBLISHED"
	StatusFailed       Status = "FAILED"
	StatusDeadLettered Status = "DEAD_LETTERED"
)

// legalTransitions encodes the delivery state machine:
// PENDING -> PUBLISHING -> {PUBLISHED | PENDING | FAILED | DEAD_LETTERED}
// and FAILED -> PENDING for operator-driven requeue of failed records.
var legalTransitions = map[Status][]Status{
	StatusPending:    {StatusPublishing},
	StatusPublishing: {StatusPublished, StatusPending, StatusFailed, StatusDeadLettered},
	StatusFailed:     {StatusPending, StatusDeadLettered},
}

// ValidateTransition reports whether from -> to is a legal state transition.
// An illegal transition is a programming defect, not an operational condition.
func ValidateTransition(from, to Status) error {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// OutboxRecord is one row of the outbox store. It is created in the same
// database transaction as the business change it describes.
type OutboxRecord struct {
	ID             string
	AggregateID    string
	EventType      string
	PayloadVersion string
	Payload        json.RawMessage
	Status         Status
	AttemptCount   int
	LastError      *string
	CorrelationID  *string
	CreatedAt      time.Time
	ClaimedAt      *time.Time
	LastAttemptAt  *time.Time
	NextAttemptAt  time.Time
	PublishedAt    *time.Time
}

// ProcessedMessageRecord marks a messageId as applied on the consumer side.
// Its unique key is the dedup anchor for idempotent consumption.
type ProcessedMessageRecord struct {
	MessageID   string
	ProcessedAt time.Time
}
