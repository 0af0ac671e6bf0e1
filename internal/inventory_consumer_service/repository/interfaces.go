package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx.Tx the consumer repositories need. The
// idempotency record and the business effect always share one transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedMessageRepository is the consumer-side idempotency guard store.
type ProcessedMessageRepository interface {
	// Insert records messageID as processed. It returns false when the ID was
	// already present, which is the duplicate-delivery signal, not an error.
	Insert(ctx context.Context, q Querier, messageID string, processedAt time.Time) (bool, error)
}

// StockProjectionRepository maintains the consumer's stock-level projection.
type StockProjectionRepository interface {
	ApplyAdjustment(ctx context.Context, q Querier, itemID string, delta int, now time.Time) error
	GetLevel(ctx context.Context, q Querier, itemID string) (int, error)
}
