package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordermesh/eventrelay/internal/core_event/domain"
	"github.com/ordermesh/eventrelay/internal/outbox_relay_service/repository"
)

// TrackerConfig carries the retry policy the tracker applies when a publish
// attempt fails.
type TrackerConfig struct {
	AttemptCeiling int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	SweepTimeout   time.Duration
}

// DeliveryTracker drives the per-record delivery state machine over the
// outbox store. It knows nothing about the broker; it only applies legal
// transitions and the retry/dead-letter policy.
type DeliveryTracker struct {
	repo   repository.OutboxRepository
	logger *slog.Logger
	config TrackerConfig
}

func NewDeliveryTracker(repo repository.OutboxRepository, logger *slog.Logger, cfg TrackerConfig) *DeliveryTracker {
	return &DeliveryTracker{repo: repo, logger: logger, config: cfg}
}

// Claim transitions up to batchSize eligible records to PUBLISHING and
// returns them in (aggregateID, createdAt) order.
func (t *DeliveryTracker) Claim(ctx context.Context, batchSize int) ([]*domain.OutboxRecord, error) {
	if err := domain.ValidateTransition(domain.StatusPending, domain.StatusPublishing); err != nil {
		return nil, err
	}
	return t.repo.ClaimBatch(ctx, time.Now().UTC(), batchSize)
}

// MarkPublished records broker confirmation for a claimed record.
func (t *DeliveryTracker) MarkPublished(ctx context.Context, rec *domain.OutboxRecord) error {
	if err := domain.ValidateTransition(rec.Status, domain.StatusPublished); err != nil {
		return err
	}
	if err := t.repo.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("marking record %s published: %w", rec.ID, err)
	}
	rec.Status = domain.StatusPublished
	return nil
}

// MarkFailed applies the retry policy after a failed attempt: below the
// ceiling the record goes back to PENDING with an exponential-backoff
// cooldown; at the ceiling it becomes DEAD_LETTERED. The returned status is
// the record's new state.
func (t *DeliveryTracker) MarkFailed(ctx context.Context, rec *domain.OutboxRecord, reason string) (domain.Status, error) {
	attempts := rec.AttemptCount + 1
	now := time.Now().UTC()

	if attempts >= t.config.AttemptCeiling {
		return t.deadLetter(ctx, rec, reason, now)
	}

	if err := domain.ValidateTransition(rec.Status, domain.StatusPending); err != nil {
		return rec.Status, err
	}

	delay := domain.BackoffDelay(attempts, t.config.BackoffBase, t.config.BackoffMax)
	if err := t.repo.MarkFailed(ctx, rec.ID, reason, now, now.Add(delay)); err != nil {
		return rec.Status, fmt.Errorf("marking record %s failed: %w", rec.ID, err)
	}

	rec.Status = domain.StatusPending
	rec.AttemptCount = attempts
	return domain.StatusPending, nil
}

// MarkDeadLettered dead-letters a record immediately, bypassing the retry
// ceiling. Used for permanent publish failures.
func (t *DeliveryTracker) MarkDeadLettered(ctx context.Context, rec *domain.OutboxRecord, reason string) (domain.Status, error) {
	return t.deadLetter(ctx, rec, reason, time.Now().UTC())
}

func (t *DeliveryTracker) deadLetter(ctx context.Context, rec *domain.OutboxRecord, reason string, now time.Time) (domain.Status, error) {
	if err := domain.ValidateTransition(rec.Status, domain.StatusDeadLettered); err != nil {
		return rec.Status, err
	}
	if err := t.repo.MarkDeadLettered(ctx, rec.ID, reason, now); err != nil {
		return rec.Status, fmt.Errorf("dead-lettering record %s: %w", rec.ID, err)
	}

	rec.Status = domain.StatusDeadLettered
	rec.AttemptCount++

	// Operator-visible alert: a dead-lettered record needs manual intervention.
	deadLetteredCounter.WithLabelValues(rec.EventType).Inc()
	t.logger.ErrorContext(ctx, "outbox record dead-lettered",
		"record_id", rec.ID,
		"aggregate_id", rec.AggregateID,
		"event_type", rec.EventType,
		"attempt_count", rec.AttemptCount,
		"reason", reason,
	)
	return domain.StatusDeadLettered, nil
}

// Requeue returns a claimed record to PENDING untouched. Used when an earlier
// record of the same aggregate failed in this cycle and ordering must hold.
func (t *DeliveryTracker) Requeue(ctx context.Context, rec *domain.OutboxRecord) error {
	if err := domain.ValidateTransition(rec.Status, domain.StatusPending); err != nil {
		return err
	}
	if err := t.repo.Requeue(ctx, rec.ID); err != nil {
		return fmt.Errorf("requeuing record %s: %w", rec.ID, err)
	}
	rec.Status = domain.StatusPending
	return nil
}

// SweepStuck reclaims PUBLISHING records older than the liveness timeout.
// They belong to a relay that crashed between claim and confirmation.
func (t *DeliveryTracker) SweepStuck(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-t.config.SweepTimeout)
	count, err := t.repo.SweepStuck(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping stuck records: %w", err)
	}
	if count > 0 {
		sweepRecoveredCounter.Add(float64(count))
		t.logger.WarnContext(ctx, "recovered stuck outbox records", "count", count, "claimed_before", cutoff)
	}
	return count, nil
}
