// Package events holds the cross-service event contracts: payload structs,
// event type names and schema versions shared by producers and consumers.
package events

import "github.com/ordermesh/eventrelay/internal/core_event/schema"

const (
	// EventTypeStockAdjusted is emitted by the inventory service whenever an
	// item's stock level changes.
	EventTypeStockAdjusted = "stock-adjusted"

	// StockAdjustedVersion is the current payload schema version.
	StockAdjustedVersion = "1.0"
)

// StockAdjustedPayload v1.x. Minor bumps may only add optional fields.
type StockAdjustedPayload struct {
	ItemID   string `json:"itemId" validate:"required,uuid4"`
	SKU      string `json:"sku" validate:"required"`
	Delta    int    `json:"delta" validate:"required"`
	NewLevel int    `json:"newLevel" validate:"gte=0"`
	Reason   string `json:"reason" validate:"required"`
}

// RegisterInventorySchemas declares the inventory event schemas on a
// negotiator registry.
func RegisterInventorySchemas(reg *schema.Registry) error {
	return reg.Register(EventTypeStockAdjusted, StockAdjustedVersion, func() any {
		return &StockAdjustedPayload{}
	})
}
