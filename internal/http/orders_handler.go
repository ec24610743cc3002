package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrderService interface {
	CreateFromCart(ctx context.Context, userID int64, regionCode string) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, userID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	timeout time.Duration
}

func NewOrdersHandler(orders OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type CreateOrderRequestDTO struct {
	Region string `json:"region"`
}

type CreateOrderResponseDTO struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type OrderLineDTO struct {
	ProductID int64  `json:"product_id"`
	ItemType  string `json:"item_type"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderResponseDTO struct {
	OrderID    string         `json:"order_id"`
	Status     string         `json:"status"`
	Currency   string         `json:"currency"`
	Subtotal   string         `json:"subtotal"`
	TaxName    string         `json:"tax_name"`
	TaxPercent string         `json:"tax_percent"`
	TaxTotal   string         `json:"tax_total"`
	Amount     string         `json:"amount"`
	PaymentRef string         `json:"payment_ref,omitempty"`
	InvoiceRef string         `json:"invoice_ref,omitempty"`
	Lines      []OrderLineDTO `json:"lines"`
	CreatedAt  string         `json:"created_at"`
}

// POST /api/v1/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	// the body is optional
	var req CreateOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	o, err := h.orders.CreateFromCart(ctx, userID, req.Region)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, CreateOrderResponseDTO{
		OrderID: o.OrderID.String(),
		Status:  o.Status.String(),
	})
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}

	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	o, err := h.orders.GetOrder(ctx, orderID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertOrder(o))
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	lines := make([]OrderLineDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineDTO{
			ProductID: l.ProductRef,
			ItemType:  string(l.ItemType),
			Quantity:  l.Quantity,
			UnitPrice: domain.FormatAmount(l.UnitPrice),
		})
	}

	return OrderResponseDTO{
		OrderID:    o.OrderID.String(),
		Status:     o.Status.String(),
		Currency:   o.Currency,
		Subtotal:   domain.FormatAmount(o.Subtotal),
		TaxName:    o.TaxName,
		TaxPercent: domain.FormatAmount(o.TaxPercent),
		TaxTotal:   domain.FormatAmount(o.TaxTotal),
		Amount:     domain.FormatAmount(o.Amount),
		PaymentRef: o.PaymentRef,
		InvoiceRef: o.InvoiceRef,
		Lines:      lines,
		CreatedAt:  o.CreatedAt.UTC().Format(time.RFC3339),
	}
}
