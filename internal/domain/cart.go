package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusActive  CartStatus = "ACTIVE"
	CartStatusOrdered CartStatus = "ORDERED"
)

type CartLine struct {
	ID         int64           `json:"id"`
	CartID     int64           `json:"cart_id"`
	ProductRef int64           `json:"product_ref"`
	ItemType   ItemType        `json:"item_type"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Status    CartStatus `json:"status"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
