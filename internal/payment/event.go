package payment

import (
	"encoding/json"
	"fmt"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/google/uuid"
)

const (
	typeIntentSucceeded = "payment_intent.succeeded"
	typeIntentFailed    = "payment_intent.payment_failed"
	typeChargeRefunded  = "charge.refunded"
)

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentIntent string            `json:"payment_intent"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// DecodeEvent parses a provider notification. Unknown types decode as PaymentIgnored.
// Orders are correlated only through metadata.order_id, never by amount.
func DecodeEvent(payload []byte) (domain.PaymentEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: event payload: %v", domain.ErrValidation, err)
	}
	if raw.Type == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: event has no type", domain.ErrValidation)
	}

	ev := domain.PaymentEvent{
		ID:          raw.ID,
		RawType:     raw.Type,
		ProviderRef: raw.Data.Object.ID,
	}
	switch raw.Type {
	case typeIntentSucceeded:
		ev.Kind = domain.PaymentSucceeded
	case typeIntentFailed:
		ev.Kind = domain.PaymentFailed
	case typeChargeRefunded:
		ev.Kind = domain.PaymentRefunded
		if raw.Data.Object.PaymentIntent != "" {
			ev.ProviderRef = raw.Data.Object.PaymentIntent
		}
	default:
		ev.Kind = domain.PaymentIgnored
		return ev, nil
	}

	if s, ok := raw.Data.Object.Metadata["order_id"]; ok {
		if id, err := uuid.Parse(s); err == nil {
			ev.OrderID = id
			ev.HasOrderID = true
		}
	}
	return ev, nil
}
