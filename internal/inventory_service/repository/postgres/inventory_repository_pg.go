package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ordermesh/eventrelay/internal/inventory_service/domain"
	"github.com/ordermesh/eventrelay/internal/inventory_service/repository"
)

type pgInventoryRepository struct{}

// NewPgInventoryRepository creates the PostgreSQL inventory repository. It is
// stateless; every call runs on the caller-supplied querier so app services
// control transaction boundaries.
func NewPgInventoryRepository() repository.InventoryRepository {
	return &pgInventoryRepository{}
}

func (r *pgInventoryRepository) Create(ctx context.Context, q repository.Querier, item *domain.InventoryItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `
		INSERT INTO inventory_items (id, sku, stock_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := q.Exec(ctx, query, item.ID, item.SKU, item.StockLevel, item.CreatedAt, item.UpdatedAt); err != nil {
		return fmt.Errorf("inserting inventory item: %w", err)
	}
	return nil
}

func (r *pgInventoryRepository) GetByID(ctx context.Context, q repository.Querier, id string) (*domain.InventoryItem, error) {
	return r.get(ctx, q, id, "")
}

func (r *pgInventoryRepository) GetByIDForUpdate(ctx context.Context, q repository.Querier, id string) (*domain.InventoryItem, error) {
	return r.get(ctx, q, id, " FOR UPDATE")
}

func (r *pgInventoryRepository) get(ctx context.Context, q repository.Querier, id, suffix string) (*domain.InventoryItem, error) {
	query := `
		SELECT id, sku, stock_level, created_at, updated_at
		FROM inventory_items WHERE id = $1` + suffix

	var item domain.InventoryItem
	err := q.QueryRow(ctx, query, id).Scan(&item.ID, &item.SKU, &item.StockLevel, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("querying inventory item: %w", err)
	}
	return &item, nil
}

func (r *pgInventoryRepository) ApplyDelta(ctx context.Context, q repository.Querier, id string, delta int, now time.Time) (int, error) {
	query := `
		UPDATE inventory_items
		SET stock_level = stock_level + $2, updated_at = $3
		WHERE id = $1 AND stock_level + $2 >= 0
		RETURNING stock_level
	`
	var newLevel int
	err := q.QueryRow(ctx, query, id, delta, now.UTC()).Scan(&newLevel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the item does not exist or the delta would go negative;
			// the caller has already loaded the row, so it is the latter.
			return 0, domain.ErrInsufficientStock
		}
		return 0, fmt.Errorf("adjusting stock level: %w", err)
	}
	return newLevel, nil
}
