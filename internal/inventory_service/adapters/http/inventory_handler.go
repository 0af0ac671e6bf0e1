package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ordermesh/eventrelay/internal/inventory_service/app"
	"github.com/ordermesh/eventrelay/internal/inventory_service/domain"
)

// InventoryHandler exposes the inventory service over HTTP.
type InventoryHandler struct {
	service  *app.InventoryAppService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewInventoryHandler(service *app.InventoryAppService, logger *slog.Logger, validate *validator.Validate) *InventoryHandler {
	return &InventoryHandler{service: service, logger: logger, validate: validate}
}

// RegisterRoutes sets up the routing for inventory operations.
func (h *InventoryHandler) RegisterRoutes(r chi.Router) {
	r.Post("/inventory", h.CreateItem)
	r.Get("/inventory/{itemID}", h.GetItem)
	r.Post("/inventory/{itemID}/adjustments", h.AdjustStock)
}

type createItemRequestDTO struct {
	SKU          string `json:"sku" validate:"required"`
	InitialStock int    `json:"initialStock" validate:"gte=0"`
}

type adjustStockRequestDTO struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=256"`
}

type inventoryItemResponseDTO struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	StockLevel int    `json:"stockLevel"`
	UpdatedAt  string `json:"updatedAt"`
}

func (h *InventoryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO createItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.service.CreateItem(ctx, reqDTO.SKU, reqDTO.InitialStock)
	if err != nil {
		h.logger.ErrorContext(ctx, "create item failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to create item")
		return
	}
	respondWithJSON(w, http.StatusCreated, toItemDTO(item))
}

func (h *InventoryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := chi.URLParam(r, "itemID")

	item, err := h.service.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			respondWithError(w, http.StatusNotFound, "item not found")
			return
		}
		h.logger.ErrorContext(ctx, "get item failed", "item_id", itemID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	respondWithJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *InventoryHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := chi.URLParam(r, "itemID")

	var reqDTO adjustStockRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.service.AdjustStock(ctx, itemID, reqDTO.Delta, reqDTO.Reason, r.Header.Get("X-Correlation-ID"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			respondWithError(w, http.StatusNotFound, "item not found")
		case errors.Is(err, domain.ErrInsufficientStock):
			respondWithError(w, http.StatusConflict, "insufficient stock")
		case errors.Is(err, domain.ErrZeroDelta):
			respondWithError(w, http.StatusBadRequest, "delta must be non-zero")
		default:
			h.logger.ErrorContext(ctx, "adjust stock failed", "item_id", itemID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "failed to adjust stock")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, toItemDTO(item))
}

func toItemDTO(item *domain.InventoryItem) inventoryItemResponseDTO {
	return inventoryItemResponseDTO{
		ID:         item.ID,
		SKU:        item.SKU,
		StockLevel: item.StockLevel,
		UpdatedAt:  item.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Default().Error("failed to write JSON response", "error", err)
		}
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
