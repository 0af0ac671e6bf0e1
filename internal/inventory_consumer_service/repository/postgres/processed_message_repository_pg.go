package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ordermesh/eventrelay/internal/inventory_consumer_service/repository"
)

type pgProcessedMessageRepository struct{}

// NewPgProcessedMessageRepository creates the idempotency guard store. The
// insert-if-absent relies on the unique key on message_id; no application
// lock is involved.
func NewPgProcessedMessageRepository() repository.ProcessedMessageRepository {
	return &pgProcessedMessageRepository{}
}

func (r *pgProcessedMessageRepository) Insert(ctx context.Context, q repository.Querier, messageID string, processedAt time.Time) (bool, error) {
	query := `
		INSERT INTO processed_messages (message_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, messageID, processedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("inserting processed message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type pgStockProjectionRepository struct{}

// NewPgStockProjectionRepository creates the stock-level projection store.
func NewPgStockProjectionRepository() repository.StockProjectionRepository {
	return &pgStockProjectionRepository{}
}

func (r *pgStockProjectionRepository) ApplyAdjustment(ctx context.Context, q repository.Querier, itemID string, delta int, now time.Time) error {
	query := `
		INSERT INTO stock_level_projection (item_id, stock_level, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO UPDATE
		SET stock_level = stock_level_projection.stock_level + EXCLUDED.stock_level,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := q.Exec(ctx, query, itemID, delta, now.UTC()); err != nil {
		return fmt.Errorf("applying projection adjustment: %w", err)
	}
	return nil
}

func (r *pgStockProjectionRepository) GetLevel(ctx context.Context, q repository.Querier, itemID string) (int, error) {
	var level int
	err := q.QueryRow(ctx, `SELECT stock_level FROM stock_level_projection WHERE item_id = $1`, itemID).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying projection level: %w", err)
	}
	return level, nil
}
