package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ordermesh/eventrelay/internal/core_event/domain"
	"github.com/ordermesh/eventrelay/internal/core_event/schema"
)

// Publisher is the broker-facing operation the relay depends on. The call
// returns only after the broker durably accepted the message (publisher
// confirm) or the context expired.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// RelayConfig holds the relay loop tunables.
type RelayConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	PublishTimeout time.Duration
	SweepInterval  time.Duration
	SourceService  string
	SubjectRoot    string
}

// Relay drains PENDING outbox records and gets them durably accepted by the
// broker. Multiple relay instances may run against the same store; the
// conditional claim in the repository is the only coordination between them.
type Relay struct {
	tracker   *DeliveryTracker
	publisher Publisher
	registry  *schema.Registry
	logger    *slog.Logger
	config    RelayConfig
}

// NewRelay creates a Relay. registry may be nil to skip producer-side schema
// validation before publishing.
func NewRelay(
	tracker *DeliveryTracker,
	publisher Publisher,
	registry *schema.Registry,
	logger *slog.Logger,
	cfg RelayConfig,
) *Relay {
	return &Relay{
		tracker:   tracker,
		publisher: publisher,
		registry:  registry,
		logger:    logger,
		config:    cfg,
	}
}

// Run executes the poll-claim-publish-confirm loop until ctx is cancelled.
// A recovery sweep runs first so records left PUBLISHING by a crashed relay
// are reclaimable, then periodically. The in-flight cycle finishes (or its
// publish timeouts expire) before Run returns.
func (r *Relay) Run(ctx context.Context) error {
	if _, err := r.tracker.SweepStuck(ctx); err != nil {
		r.logger.ErrorContext(ctx, "startup sweep failed", "error", err)
	}

	pollTicker := time.NewTicker(r.config.PollInterval)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(r.config.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay loop stopping", "reason", ctx.Err())
			return nil
		case <-sweepTicker.C:
			if _, err := r.tracker.SweepStuck(ctx); err != nil {
				r.logger.ErrorContext(ctx, "periodic sweep failed", "error", err)
			}
		case <-pollTicker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "poll cycle failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single poll cycle and returns the number of records
// confirmed by the broker.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	records, err := r.tracker.Claim(ctx, r.config.BatchSize)
	if err != nil {
		return 0, err
	}
	claimedBatchSizeHist.Observe(float64(len(records)))
	if len(records) == 0 {
		return 0, nil
	}

	r.logger.DebugContext(ctx, "claimed outbox batch", "count", len(records))

	// Status writes survive shutdown: once a record is claimed its outcome
	// must be recorded even if ctx is cancelled mid-cycle, otherwise rows are
	// left PUBLISHING until the next sweep.
	statusCtx := context.WithoutCancel(ctx)

	published := 0
	// Aggregates whose earlier record failed this cycle; their remaining
	// records are requeued untouched so they cannot overtake.
	blocked := map[string]bool{}

	for _, rec := range records {
		if blocked[rec.AggregateID] {
			if err := r.tracker.Requeue(statusCtx, rec); err != nil {
				r.logger.ErrorContext(ctx, "requeue failed", "record_id", rec.ID, "error", err)
			}
			continue
		}

		outcome := r.publishRecord(ctx, rec)
		switch outcome.Kind {
		case domain.OutcomePublished:
			if err := r.tracker.MarkPublished(statusCtx, rec); err != nil {
				// The publish is confirmed but the status write lost; the
				// record will be retried and consumers deduplicate by
				// messageId, so the effect is still applied exactly once.
				r.logger.ErrorContext(ctx, "mark published failed", "record_id", rec.ID, "error", err)
				continue
			}
			published++
			publishedCounter.WithLabelValues(rec.EventType).Inc()

		case domain.OutcomeRetryable:
			publishFailureCounter.WithLabelValues(rec.EventType, "retryable").Inc()
			newStatus, err := r.tracker.MarkFailed(statusCtx, rec, outcome.Reason)
			if err != nil {
				r.logger.ErrorContext(ctx, "mark failed failed", "record_id", rec.ID, "error", err)
			}
			if newStatus != domain.StatusDeadLettered {
				blocked[rec.AggregateID] = true
			}
			r.logger.WarnContext(ctx, "publish attempt failed",
				"record_id", rec.ID,
				"aggregate_id", rec.AggregateID,
				"attempt_count", rec.AttemptCount,
				"status", string(newStatus),
				"reason", outcome.Reason,
			)

		case domain.OutcomePermanent:
			publishFailureCounter.WithLabelValues(rec.EventType, "permanent").Inc()
			if _, err := r.tracker.MarkDeadLettered(statusCtx, rec, outcome.Reason); err != nil {
				r.logger.ErrorContext(ctx, "dead-letter failed", "record_id", rec.ID, "error", err)
			}
		}
	}

	return published, nil
}

// publishRecord builds the envelope for one record and attempts a confirmed
// publish, classifying the result. Envelope construction and schema failures
// are permanent: retrying cannot fix a malformed record. Broker failures are
// retryable: a timeout means unconfirmed, never published.
func (r *Relay) publishRecord(ctx context.Context, rec *domain.OutboxRecord) domain.PublishOutcome {
	if r.registry != nil {
		if err := r.registry.Validate(rec.EventType, rec.PayloadVersion, rec.Payload); err != nil {
			return domain.Permanent(err.Error())
		}
	}

	env := domain.NewEnvelope(rec, r.config.SourceService)
	subject, err := env.Subject(r.config.SubjectRoot)
	if err != nil {
		return domain.Permanent(err.Error())
	}

	data, err := json.Marshal(env)
	if err != nil {
		return domain.Permanent(err.Error())
	}

	timer := prometheus.NewTimer(publishDurationHist.WithLabelValues(rec.EventType))
	defer timer.ObserveDuration()

	// In-flight attempts run to completion or their own timeout even when the
	// loop context is cancelled for shutdown: a claimed record must not burn
	// an attempt (or dead-letter at the ceiling) because the process is
	// stopping while the broker is healthy.
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.PublishTimeout)
	defer cancel()

	if err := r.publisher.Publish(attemptCtx, subject, data); err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "publish confirmation timed out"
		}
		return domain.Retryable(reason)
	}

	return domain.Published()
}
