package domain

import (
	"errors"
	"time"
)

var (
	ErrItemNotFound      = errors.New("inventory item not found")
	ErrInsufficientStock = errors.New("insufficient stock for adjustment")
	ErrZeroDelta         = errors.New("adjustment delta must be non-zero")
)

// InventoryItem is the business aggregate whose changes are announced through
// the outbox.
type InventoryItem struct {
	ID         string
	SKU        string
	StockLevel int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
