package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type IntentService interface {
	CreateIntent(ctx context.Context, userID int64, orderID uuid.UUID, methodID string) (*domain.Intent, error)
}

type MethodService interface {
	Add(ctx context.Context, userID int64, token string, makeDefault bool) (*domain.PaymentMethod, error)
	List(ctx context.Context, userID int64) ([]*domain.PaymentMethod, error)
	Delete(ctx context.Context, userID int64, methodID string) error
}

type PaymentsHandler struct {
	intents IntentService
	methods MethodService
	timeout time.Duration
}

func NewPaymentsHandler(intents IntentService, methods MethodService, timeout time.Duration) *PaymentsHandler {
	return &PaymentsHandler{
		intents: intents,
		methods: methods,
		timeout: timeout,
	}
}

type PaymentIntentRequestDTO struct {
	OrderID         string `json:"order_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

type PaymentIntentResponseDTO struct {
	Provider     string `json:"provider"`
	PaymentID    string `json:"payment_id"`
	ClientSecret string `json:"client_secret"`
}

type AddPaymentMethodRequestDTO struct {
	Token       string `json:"token"`
	MakeDefault bool   `json:"make_default"`
}

type PaymentMethodDTO struct {
	PaymentMethodID string `json:"payment_method_id"`
	Provider        string `json:"provider"`
	Brand           string `json:"brand"`
	Last4           string `json:"last4"`
	ExpMonth        int    `json:"exp_month"`
	ExpYear         int    `json:"exp_year"`
	IsDefault       bool   `json:"is_default"`
	CreatedAt       string `json:"created_at"`
}

// POST /api/v1/payments/intent
func (h *PaymentsHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req PaymentIntentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}
	if req.PaymentMethodID == "" {
		respondError(w, http.StatusBadRequest, "invalid_payment_method_id", "payment_method_id is required")
		return
	}

	intent, err := h.intents.CreateIntent(ctx, userID, orderID, req.PaymentMethodID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, PaymentIntentResponseDTO{
		Provider:     intent.Provider,
		PaymentID:    intent.ProviderRef,
		ClientSecret: intent.ClientSecret,
	})
}

// GET /api/v1/payment-methods
func (h *PaymentsHandler) ListMethods(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	methods, err := h.methods.List(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	dtos := make([]PaymentMethodDTO, 0, len(methods))
	for _, pm := range methods {
		dtos = append(dtos, convertPaymentMethod(pm))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// POST /api/v1/payment-methods
func (h *PaymentsHandler) AddMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AddPaymentMethodRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	pm, err := h.methods.Add(ctx, userID, req.Token, req.MakeDefault)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, convertPaymentMethod(pm))
}

// DELETE /api/v1/payment-methods/{payment_method_id}
func (h *PaymentsHandler) DeleteMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.methods.Delete(ctx, userID, chi.URLParam(r, "payment_method_id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func convertPaymentMethod(pm *domain.PaymentMethod) PaymentMethodDTO {
	return PaymentMethodDTO{
		PaymentMethodID: pm.MethodID,
		Provider:        pm.Provider,
		Brand:           pm.Brand,
		Last4:           pm.Last4,
		ExpMonth:        pm.ExpMonth,
		ExpYear:         pm.ExpYear,
		IsDefault:       pm.IsDefault,
		CreatedAt:       pm.CreatedAt.UTC().Format(time.RFC3339),
	}
}
