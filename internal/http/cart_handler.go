package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_pay/internal/cart"
	"github.com/fjod/go_pay/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type CartService interface {
	View(ctx context.Context, userID int64, region string) (*cart.View, error)
	UpsertLine(ctx context.Context, userID int64, in cart.LineInput) (*domain.CartLine, error)
	RemoveLine(ctx context.Context, userID, lineID int64) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64            `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	ItemType  string           `json:"item_type"`
}

type CartLineDTO struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	ItemType  string `json:"item_type"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type TotalsDTO struct {
	Subtotal   string `json:"subtotal"`
	TaxName    string `json:"tax_name"`
	TaxPercent string `json:"tax_percent"`
	TaxAmount  string `json:"tax_amount"`
	Total      string `json:"total"`
	Region     string `json:"region,omitempty"`
}

type CartResponseDTO struct {
	ID     int64         `json:"id"`
	Status string        `json:"status"`
	Lines  []CartLineDTO `json:"lines"`
	Totals TotalsDTO     `json:"totals"`
}

// GET /api/v1/cart?region=XX
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	view, err := h.carts.View(ctx, userID, r.URL.Query().Get("region"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := CartResponseDTO{
		ID:     view.Cart.ID,
		Status: string(view.Cart.Status),
		Lines:  make([]CartLineDTO, 0, len(view.Cart.Lines)),
		Totals: TotalsDTO{
			Subtotal:   domain.FormatAmount(view.Totals.Subtotal),
			TaxName:    view.Totals.TaxName,
			TaxPercent: domain.FormatAmount(view.Totals.TaxPercent),
			TaxAmount:  domain.FormatAmount(view.Totals.TaxAmount),
			Total:      domain.FormatAmount(view.Totals.Total),
			Region:     view.Totals.RegionCode,
		},
	}
	for _, l := range view.Cart.Lines {
		resp.Lines = append(resp.Lines, convertCartLine(l))
	}

	respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UnitPrice == nil {
		respondError(w, http.StatusBadRequest, "invalid_unit_price", "unit_price is required")
		return
	}

	line, err := h.carts.UpsertLine(ctx, userID, cart.LineInput{
		ProductRef: req.ProductID,
		Quantity:   req.Quantity,
		UnitPrice:  *req.UnitPrice,
		ItemType:   req.ItemType,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, convertCartLine(*line))
}

// DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	lineID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil || lineID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id must be a positive integer")
		return
	}

	if err := h.carts.RemoveLine(ctx, userID, lineID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func convertCartLine(l domain.CartLine) CartLineDTO {
	return CartLineDTO{
		ID:        l.ID,
		ProductID: l.ProductRef,
		ItemType:  string(l.ItemType),
		Quantity:  l.Quantity,
		UnitPrice: domain.FormatAmount(l.UnitPrice),
		LineTotal: domain.FormatAmount(l.LineTotal()),
	}
}
