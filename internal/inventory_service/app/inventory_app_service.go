package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ordermesh/eventrelay/internal/core_event/events"
	"github.com/ordermesh/eventrelay/internal/inventory_service/domain"
	"github.com/ordermesh/eventrelay/internal/inventory_service/repository"
	"github.com/ordermesh/eventrelay/internal/outbox"
)

// TxBeginner opens database transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InventoryAppService applies stock changes. Every mutation commits the
// business row and its outbox record in one transaction; publication to the
// broker happens later, in the relay, and its failures never reach callers
// of this service.
type InventoryAppService struct {
	db     TxBeginner
	repo   repository.InventoryRepository
	writer *outbox.Writer
	logger *slog.Logger
}

func NewInventoryAppService(
	db TxBeginner,
	repo repository.InventoryRepository,
	writer *outbox.Writer,
	logger *slog.Logger,
) *InventoryAppService {
	return &InventoryAppService{db: db, repo: repo, writer: writer, logger: logger}
}

// CreateItem registers a new inventory item.
func (s *InventoryAppService) CreateItem(ctx context.Context, sku string, initialStock int) (*domain.InventoryItem, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	item := &domain.InventoryItem{SKU: sku, StockLevel: initialStock}
	if err := s.repo.Create(ctx, tx, item); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return item, nil
}

// GetItem returns the current state of an item.
func (s *InventoryAppService) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return s.repo.GetByID(ctx, tx, itemID)
}

// AdjustStock changes an item's stock level and appends the stock-adjusted
// outbox record inside the same transaction. If any step fails, both the
// business change and the event are rolled back together.
func (s *InventoryAppService) AdjustStock(
	ctx context.Context,
	itemID string,
	delta int,
	reason string,
	correlationID string,
) (*domain.InventoryItem, error) {
	if delta == 0 {
		return nil, domain.ErrZeroDelta
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	item, err := s.repo.GetByIDForUpdate(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	newLevel, err := s.repo.ApplyDelta(ctx, tx, item.ID, delta, now)
	if err != nil {
		return nil, err
	}
	item.StockLevel = newLevel
	item.UpdatedAt = now

	payload := events.StockAdjustedPayload{
		ItemID:   item.ID,
		SKU:      item.SKU,
		Delta:    delta,
		NewLevel: newLevel,
		Reason:   reason,
	}

	rec, err := s.writer.Append(ctx, tx,
		item.ID,
		events.EventTypeStockAdjusted,
		events.StockAdjustedVersion,
		payload,
		outbox.WithCorrelationID(correlationID),
	)
	if err != nil {
		return nil, fmt.Errorf("appending outbox record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "stock adjusted",
		"item_id", item.ID,
		"delta", delta,
		"new_level", newLevel,
		"outbox_record_id", rec.ID,
	)
	return item, nil
}
