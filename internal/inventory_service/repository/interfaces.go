package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ordermesh/eventrelay/internal/inventory_service/domain"
)

// Querier is the subset of pgx.Tx the inventory repository needs, so app
// services can run repository calls and the outbox append in one transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InventoryRepository persists inventory items.
type InventoryRepository interface {
	Create(ctx context.Context, q Querier, item *domain.InventoryItem) error
	GetByID(ctx context.Context, q Querier, id string) (*domain.InventoryItem, error)
	// GetByIDForUpdate locks the row for the duration of the transaction.
	GetByIDForUpdate(ctx context.Context, q Querier, id string) (*domain.InventoryItem, error)
	// ApplyDelta adjusts the stock level and returns the new level. The
	// update is conditional on the level staying non-negative.
	ApplyDelta(ctx context.Context, q Querier, id string, delta int, now time.Time) (int, error)
}
