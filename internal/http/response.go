package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_pay/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type ctxKey int

const userIDKey ctxKey = iota

func getUserIDFromContext(ctx context.Context) int64 {
	if userID, ok := ctx.Value(userIDKey).(int64); ok {
		return userID
	}
	return 0
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps domain sentinels to HTTP statuses. Unknown errors become 500 and
// their text is not exposed.
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		httpStatus int
		code       string
	)

	switch {
	case errors.Is(err, domain.ErrValidation):
		httpStatus, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrEmptyCart):
		httpStatus, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInconsistentTransition):
		httpStatus, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrPaymentDeclined):
		httpStatus, code = http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, domain.ErrProvider):
		httpStatus, code = http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		slog.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return 0, false
	}
	return userID, true
}
