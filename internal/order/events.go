package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/repository"
)

const (
	EventCreated  = "order.created"
	EventPaid     = "order.paid"
	EventFailed   = "order.failed"
	EventRefunded = "order.refunded"
)

type eventLine struct {
	ProductRef int64  `json:"product_ref"`
	ItemType   string `json:"item_type"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
}

type eventPayload struct {
	OrderID    string      `json:"order_id"`
	UserID     int64       `json:"user_id"`
	Status     string      `json:"status"`
	Currency   string      `json:"currency"`
	Subtotal   string      `json:"subtotal"`
	TaxTotal   string      `json:"tax_total"`
	Amount     string      `json:"amount"`
	PaymentRef string      `json:"payment_ref,omitempty"`
	Lines      []eventLine `json:"lines,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewEvent builds the outbox row announcing an order change.
func NewEvent(eventType string, o *domain.Order) (*repository.OutboxEvent, error) {
	payload := eventPayload{
		OrderID:    o.OrderID.String(),
		UserID:     o.UserID,
		Status:     o.Status.String(),
		Currency:   o.Currency,
		Subtotal:   domain.FormatAmount(o.Subtotal),
		TaxTotal:   domain.FormatAmount(o.TaxTotal),
		Amount:     domain.FormatAmount(o.Amount),
		PaymentRef: o.PaymentRef,
		OccurredAt: time.Now().UTC(),
	}
	if eventType == EventCreated {
		for _, l := range o.Lines {
			payload.Lines = append(payload.Lines, eventLine{
				ProductRef: l.ProductRef,
				ItemType:   string(l.ItemType),
				Quantity:   l.Quantity,
				UnitPrice:  domain.FormatAmount(l.UnitPrice),
			})
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &repository.OutboxEvent{
		AggregateId: o.OrderID.String(),
		EventType:   eventType,
		Payload:     data,
	}, nil
}
