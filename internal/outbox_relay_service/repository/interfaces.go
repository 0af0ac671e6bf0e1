package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ordermesh/eventrelay/internal/core_event/domain"
)

// ErrStateConflict is returned when a conditional status update matched zero
// rows: the record was not in the expected state, usually because a concurrent
// actor won the compare-and-swap. In correct operation this does not happen.
var ErrStateConflict = errors.New("outbox record state conflict")

// OutboxRepository is the relay's view of the outbox store. All mutations are
// conditional on the current status, which is the only coordination mechanism
// between relay replicas.
type OutboxRepository interface {
	// ClaimBatch atomically moves up to batchSize eligible PENDING records to
	// PUBLISHING and returns them ordered by (aggregate_id, created_at). A
	// record is eligible when its backoff cooldown has elapsed and no earlier
	// unresolved record of the same aggregate exists outside the claimed set.
	ClaimBatch(ctx context.Context, now time.Time, batchSize int) ([]*domain.OutboxRecord, error)

	// MarkPublished transitions PUBLISHING -> PUBLISHED.
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error

	// MarkFailed transitions PUBLISHING -> PENDING, incrementing the attempt
	// count and deferring the next attempt until nextAttemptAt.
	MarkFailed(ctx context.Context, id string, reason string, now, nextAttemptAt time.Time) error

	// MarkDeadLettered transitions PUBLISHING -> DEAD_LETTERED, a terminal
	// state requiring operator intervention.
	MarkDeadLettered(ctx context.Context, id string, reason string, now time.Time) error

	// Requeue transitions PUBLISHING -> PENDING without touching the attempt
	// count; used for records skipped to preserve per-aggregate ordering.
	Requeue(ctx context.Context, id string) error

	// SweepStuck reverts PUBLISHING records claimed before the cutoff back to
	// PENDING and returns how many were recovered. Run at startup and
	// periodically; it is what makes a relay crash after claim recoverable.
	SweepStuck(ctx context.Context, claimedBefore time.Time) (int, error)
}
