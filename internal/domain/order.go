package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusFailed   OrderStatus = "FAILED"
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// transitions lists every status an order may move to from a given status.
// PENDING can only be left once.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusFailed},
	OrderStatusPaid:    {OrderStatusRefunded},
}

func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFailed || s == OrderStatusRefunded
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusRefunded:
		return true
	}
	return false
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

type ItemType string

const (
	ItemTypeAlbum ItemType = "ALBUM"
	ItemTypeTrack ItemType = "TRACK"
	ItemTypeSub   ItemType = "SUB"
)

// ParseItemType maps caller input to an ItemType. Empty input means TRACK.
func ParseItemType(s string) (ItemType, bool) {
	switch ItemType(s) {
	case "":
		return ItemTypeTrack, true
	case ItemTypeAlbum, ItemTypeTrack, ItemTypeSub:
		return ItemType(s), true
	}
	return "", false
}

type OrderLine struct {
	ID         int64
	OrderID    int64
	ItemType   ItemType
	ProductRef int64
	Quantity   int
	UnitPrice  decimal.Decimal
}

func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the frozen financial snapshot of a cart at checkout time.
// Amount always equals Subtotal + TaxTotal.
type Order struct {
	ID         int64
	OrderID    uuid.UUID
	UserID     int64
	Currency   string
	Subtotal   decimal.Decimal
	TaxTotal   decimal.Decimal
	TaxPercent decimal.Decimal
	TaxName    string
	Amount     decimal.Decimal
	Status     OrderStatus
	PaymentRef string
	InvoiceRef string
	Lines      []OrderLine
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Balanced reports whether the stored amount matches subtotal plus tax.
func (o *Order) Balanced() bool {
	return o.Amount.Equal(o.Subtotal.Add(o.TaxTotal))
}
