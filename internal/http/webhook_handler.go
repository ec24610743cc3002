package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/payment"
)

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (payment.Outcome, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	maxBody   int64
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor, maxBody: 1 << 20}
}

// outcomeError acknowledges an authenticated event that could not be reconciled. The raw
// payload is logged so the event can be replayed by hand.
const outcomeError = "error"

// POST /api/v1/webhooks/payments
// Only signature and payload problems are reported as 400. Every authenticated event is
// acknowledged with 200, whatever reconciliation made of it.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	outcome, err := h.processor.HandleWebhook(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
	case errors.Is(err, domain.ErrInvalidSignature):
		respondError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_payload", "invalid event payload")
	case errors.Is(err, domain.ErrInconsistentTransition):
		respondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
	default:
		slog.ErrorContext(r.Context(), "webhook reconciliation failed", "error", err, "payload", string(payload))
		respondJSON(w, http.StatusOK, map[string]string{"outcome": outcomeError})
	}
}
