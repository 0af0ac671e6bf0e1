package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordermesh/eventrelay/internal/core_event/domain"
	"github.com/ordermesh/eventrelay/internal/outbox_relay_service/repository"
)

const outboxColumns = `id, aggregate_id, event_type, payload_version, payload,
	status, attempt_count, last_error, correlation_id, created_at,
	claimed_at, last_attempt_at, next_attempt_at, published_at`

// The candidate CTE locks eligible PENDING rows in (aggregate_id, created_at)
// order; SKIP LOCKED keeps concurrent relay replicas from blocking on each
// other. The claimable filter drops any candidate that has an earlier
// unresolved sibling outside the candidate set: such a sibling is either
// locked by another replica, cooling down after a failure, or cut off by the
// batch limit, and publishing past it would break per-aggregate ordering.
const claimBatchQuery = `
	WITH candidate AS (
		SELECT id, aggregate_id, created_at
		FROM outbox_records
		WHERE status = 'PENDING' AND next_attempt_at <= $1
		ORDER BY aggregate_id ASC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	),
	claimable AS (
		SELECT c.id
		FROM candidate c
		WHERE NOT EXISTS (
			SELECT 1 FROM outbox_records e
			WHERE e.aggregate_id = c.aggregate_id
			  AND e.created_at < c.created_at
			  AND e.status NOT IN ('PUBLISHED', 'DEAD_LETTERED')
			  AND e.id NOT IN (SELECT id FROM candidate)
		)
	)
	UPDATE outbox_records o
	SET status = 'PUBLISHING', claimed_at = $1
	FROM claimable
	WHERE o.id = claimable.id AND o.status = 'PENDING'
	RETURNING ` + outboxColumns

type pgOutboxRepository struct {
	db *pgxpool.Pool
}

// NewPgOutboxRepository creates the PostgreSQL-backed outbox repository used
// by the relay.
func NewPgOutboxRepository(db *pgxpool.Pool) repository.OutboxRepository {
	return &pgOutboxRepository{db: db}
}

func (r *pgOutboxRepository) ClaimBatch(ctx context.Context, now time.Time, batchSize int) ([]*domain.OutboxRecord, error) {
	rows, err := r.db.Query(ctx, claimBatchQuery, now.UTC(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox batch: %w", err)
	}
	defer rows.Close()

	var records []*domain.OutboxRecord
	for rows.Next() {
		rec, err := scanOutboxRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claimed batch: %w", err)
	}

	// RETURNING does not guarantee order; restore claim order for the caller.
	sortByAggregateAndTime(records)
	return records, nil
}

func (r *pgOutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	query := `
		UPDATE outbox_records
		SET status = 'PUBLISHED', published_at = $2, claimed_at = NULL
		WHERE id = $1 AND status = 'PUBLISHING'
	`
	return r.execTransition(ctx, query, id, publishedAt.UTC())
}

func (r *pgOutboxRepository) MarkFailed(ctx context.Context, id string, reason string, now, nextAttemptAt time.Time) error {
	query := `
		UPDATE outbox_records
		SET status = 'PENDING',
		    attempt_count = attempt_count + 1,
		    last_error = $2,
		    last_attempt_at = $3,
		    next_attempt_at = $4,
		    claimed_at = NULL
		WHERE id = $1 AND status = 'PUBLISHING'
	`
	return r.execTransition(ctx, query, id, reason, now.UTC(), nextAttemptAt.UTC())
}

func (r *pgOutboxRepository) MarkDeadLettered(ctx context.Context, id string, reason string, now time.Time) error {
	query := `
		UPDATE outbox_records
		SET status = 'DEAD_LETTERED',
		    attempt_count = attempt_count + 1,
		    last_error = $2,
		    last_attempt_at = $3,
		    claimed_at = NULL
		WHERE id = $1 AND status = 'PUBLISHING'
	`
	return r.execTransition(ctx, query, id, reason, now.UTC())
}

func (r *pgOutboxRepository) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE outbox_records
		SET status = 'PENDING', claimed_at = NULL
		WHERE id = $1 AND status = 'PUBLISHING'
	`
	return r.execTransition(ctx, query, id)
}

func (r *pgOutboxRepository) SweepStuck(ctx context.Context, claimedBefore time.Time) (int, error) {
	query := `
		UPDATE outbox_records
		SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'PUBLISHING' AND claimed_at <= $1
	`
	tag, err := r.db.Exec(ctx, query, claimedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping stuck records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgOutboxRepository) execTransition(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating outbox record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStateConflict
	}
	return nil
}

func scanOutboxRecord(row pgx.Row) (*domain.OutboxRecord, error) {
	var rec domain.OutboxRecord
	err := row.Scan(
		&rec.ID, &rec.AggregateID, &rec.EventType, &rec.PayloadVersion, &rec.Payload,
		&rec.Status, &rec.AttemptCount, &rec.LastError, &rec.CorrelationID, &rec.CreatedAt,
		&rec.ClaimedAt, &rec.LastAttemptAt, &rec.NextAttemptAt, &rec.PublishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning outbox record: %w", err)
	}
	return &rec, nil
}

func sortByAggregateAndTime(records []*domain.OutboxRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].AggregateID != records[j].AggregateID {
			return records[i].AggregateID < records[j].AggregateID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
