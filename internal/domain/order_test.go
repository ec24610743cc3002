package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusPaid, OrderStatusRefunded, true},
		{OrderStatusPending, OrderStatusRefunded, false},
		{OrderStatusPaid, OrderStatusFailed, false},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusFailed, OrderStatusPaid, false},
		{OrderStatusRefunded, OrderStatusPaid, false},
		{OrderStatusPaid, OrderStatusPaid, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusPaid.IsTerminal())
	assert.True(t, OrderStatusFailed.IsTerminal())
	assert.True(t, OrderStatusRefunded.IsTerminal())
}

func TestParseItemType(t *testing.T) {
	it, ok := ParseItemType("")
	assert.True(t, ok)
	assert.Equal(t, ItemTypeTrack, it)

	it, ok = ParseItemType("ALBUM")
	assert.True(t, ok)
	assert.Equal(t, ItemTypeAlbum, it)

	_, ok = ParseItemType("vinyl")
	assert.False(t, ok)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(4838), MinorUnits(decimal.RequireFromString("48.38")))
	assert.Equal(t, int64(22000), MinorUnits(decimal.RequireFromString("220")))
	assert.Equal(t, "8.40", FormatAmount(decimal.RequireFromString("8.4")))
}

func TestOrderBalanced(t *testing.T) {
	o := &Order{
		Subtotal: decimal.RequireFromString("39.98"),
		TaxTotal: decimal.RequireFromString("8.40"),
		Amount:   decimal.RequireFromString("48.38"),
	}
	assert.True(t, o.Balanced())

	o.Amount = decimal.RequireFromString("48.37")
	assert.False(t, o.Balanced())
}
