package payment

import (
	"context"
	"errors"

	"github.com/fjod/go_pay/internal/domain"
)

// Provider is the payment processor. Card data stays with the provider; this service only
// ever handles its references.
type Provider interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*domain.Intent, error)
	// RetrievePaymentMethod resolves a client-side token to the card it represents.
	RetrievePaymentMethod(ctx context.Context, token string) (*Card, error)
}

type IntentRequest struct {
	// AmountMinor is the order amount in minor currency units.
	AmountMinor    int64
	Currency       string
	MethodRef      string
	OrderID        string
	Description    string
	IdempotencyKey string
}

type Card struct {
	ProviderRef string
	Brand       string
	Last4       string
	ExpMonth    int
	ExpYear     int
}

// DeclineError is a definitive refusal by the provider. It unwraps to domain.ErrPaymentDeclined.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	if e.Code == "" {
		return "payment declined: " + e.Message
	}
	return "payment declined (" + e.Code + "): " + e.Message
}

func (e *DeclineError) Unwrap() error {
	return domain.ErrPaymentDeclined
}

func isDecline(err error) bool {
	var d *DeclineError
	return errors.As(err, &d)
}
