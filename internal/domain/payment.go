package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is a tokenized provider reference. Raw card data never reaches this service.
type PaymentMethod struct {
	MethodID    string
	UserID      int64
	Provider    string
	ProviderRef string
	Brand       string
	Last4       string
	ExpMonth    int
	ExpYear     int
	IsDefault   bool
	CreatedAt   time.Time
}

type PaymentEventKind string

const (
	PaymentSucceeded PaymentEventKind = "succeeded"
	PaymentFailed    PaymentEventKind = "failed"
	PaymentRefunded  PaymentEventKind = "refunded"
	PaymentIgnored   PaymentEventKind = "ignored"
)

// PaymentEvent is a provider notification reduced to what reconciliation needs.
type PaymentEvent struct {
	ID          string
	Kind        PaymentEventKind
	RawType     string
	OrderID     uuid.UUID
	HasOrderID  bool
	ProviderRef string
}

type Intent struct {
	Provider     string
	ProviderRef  string
	ClientSecret string
}
