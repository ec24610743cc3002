package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract exercises behaviour every Store implementation must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("cart upsert merges quantity and overwrites price", func(t *testing.T) {
		testCartUpsertMerges(t, newStore(t))
	})
	t.Run("one cart row per user", func(t *testing.T) {
		testOneCartPerUser(t, newStore(t))
	})
	t.Run("cart line delete is scoped to cart", func(t *testing.T) {
		testDeleteCartLineScoped(t, newStore(t))
	})
	t.Run("failed transaction rolls back", func(t *testing.T) {
		testRollback(t, newStore(t))
	})
	t.Run("order round trip", func(t *testing.T) {
		testOrderRoundTrip(t, newStore(t))
	})
	t.Run("conditional status update", func(t *testing.T) {
		testConditionalStatus(t, newStore(t))
	})
	t.Run("processed events are recorded once", func(t *testing.T) {
		testProcessedEvents(t, newStore(t))
	})
	t.Run("payment methods", func(t *testing.T) {
		testPaymentMethods(t, newStore(t))
	})
	t.Run("outbox", func(t *testing.T) {
		testOutbox(t, newStore(t))
	})
	t.Run("paid orders without invoice", func(t *testing.T) {
		testPaidWithoutInvoice(t, newStore(t))
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestOrder(userID int64) *domain.Order {
	return &domain.Order{
		OrderID:    uuid.New(),
		UserID:     userID,
		Currency:   "EUR",
		Subtotal:   dec("39.98"),
		TaxTotal:   dec("8.40"),
		TaxPercent: dec("21.00"),
		TaxName:    "IVA General",
		Amount:     dec("48.38"),
		Status:     domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{ItemType: domain.ItemTypeAlbum, ProductRef: 7, Quantity: 2, UnitPrice: dec("19.99")},
		},
	}
}

func testCartUpsertMerges(t *testing.T, s Store) {
	ctx := context.Background()
	cart, err := s.CreateCart(ctx, 1)
	require.NoError(t, err)

	first, err := s.UpsertCartLine(ctx, domain.CartLine{CartID: cart.ID, ProductRef: 10, ItemType: domain.ItemTypeTrack, Quantity: 1, UnitPrice: dec("0.99")})
	require.NoError(t, err)

	second, err := s.UpsertCartLine(ctx, domain.CartLine{CartID: cart.ID, ProductRef: 10, ItemType: domain.ItemTypeTrack, Quantity: 2, UnitPrice: dec("1.29")})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, second.Quantity)

	lines, err := s.ListCartLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, "1.29", lines[0].UnitPrice.StringFixed(2))
}

func testOneCartPerUser(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateCart(ctx, 2)
	require.NoError(t, err)

	_, err = s.CreateCart(ctx, 2)
	assert.ErrorIs(t, err, ErrDuplicateCart)
}

func testDeleteCartLineScoped(t *testing.T, s Store) {
	ctx := context.Background()
	mine, err := s.CreateCart(ctx, 3)
	require.NoError(t, err)
	theirs, err := s.CreateCart(ctx, 4)
	require.NoError(t, err)

	line, err := s.UpsertCartLine(ctx, domain.CartLine{CartID: theirs.ID, ProductRef: 1, ItemType: domain.ItemTypeTrack, Quantity: 1, UnitPrice: dec("1.00")})
	require.NoError(t, err)

	err = s.DeleteCartLine(ctx, mine.ID, line.ID)
	assert.ErrorIs(t, err, ErrCartLineNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.DeleteCartLine(ctx, theirs.ID, line.ID))
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(q Queries) error {
		if _, err := q.CreateCart(ctx, 5); err != nil {
			return err
		}
		if err := q.CreateOrder(ctx, newTestOrder(5)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetCart(ctx, 5, domain.CartStatusActive)
	assert.ErrorIs(t, err, ErrCartNotFound)

	orders, err := s.ListOrdersByUser(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func testOrderRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	order := newTestOrder(6)

	require.NoError(t, s.CreateOrder(ctx, order))
	assert.NotZero(t, order.ID)

	fetched, err := s.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, fetched.OrderID)
	assert.Equal(t, domain.OrderStatusPending, fetched.Status)
	assert.Equal(t, "48.38", fetched.Amount.StringFixed(2))
	assert.True(t, fetched.Balanced())
	require.Len(t, fetched.Lines, 1)
	assert.Equal(t, domain.ItemTypeAlbum, fetched.Lines[0].ItemType)
	assert.Equal(t, "19.99", fetched.Lines[0].UnitPrice.StringFixed(2))

	_, err = s.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	unbalanced := newTestOrder(6)
	unbalanced.Amount = dec("48.39")
	assert.ErrorIs(t, s.CreateOrder(ctx, unbalanced), ErrUnbalancedOrder)

	second := newTestOrder(6)
	require.NoError(t, s.CreateOrder(ctx, second))

	orders, err := s.ListOrdersByUser(ctx, 6)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.OrderID, orders[0].OrderID)
	assert.Len(t, orders[1].Lines, 1)
}

func testConditionalStatus(t *testing.T, s Store) {
	ctx := context.Background()
	order := newTestOrder(7)
	require.NoError(t, s.CreateOrder(ctx, order))

	require.NoError(t, s.UpdateOrderStatus(ctx, order.OrderID, domain.OrderStatusPending, domain.OrderStatusPaid))
	err := s.UpdateOrderStatus(ctx, order.OrderID, domain.OrderStatusPending, domain.OrderStatusFailed)
	assert.ErrorIs(t, err, ErrStaleStatus)

	fetched, err := s.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, fetched.Status)

	require.NoError(t, s.SetPaymentRef(ctx, order.OrderID, "pi_123"))
	fetched, err = s.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", fetched.PaymentRef)
}

func testProcessedEvents(t *testing.T, s Store) {
	ctx := context.Background()
	order := newTestOrder(8)
	require.NoError(t, s.CreateOrder(ctx, order))

	ev := ProcessedEvent{EventID: "evt_1", EventType: "payment_intent.succeeded", OrderID: order.OrderID}
	fresh, err := s.MarkEventProcessed(ctx, ev)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkEventProcessed(ctx, ev)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func testPaymentMethods(t *testing.T, s Store) {
	ctx := context.Background()
	first := &domain.PaymentMethod{MethodID: "pm_a", UserID: 9, Provider: "stripe", ProviderRef: "pm_stripe_a", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030, IsDefault: true}
	require.NoError(t, s.CreatePaymentMethod(ctx, first))

	dup := &domain.PaymentMethod{MethodID: "pm_b", UserID: 9, Provider: "stripe", ProviderRef: "pm_stripe_a"}
	assert.ErrorIs(t, s.CreatePaymentMethod(ctx, dup), ErrDuplicatePaymentMethod)

	err := s.WithinTx(ctx, func(q Queries) error {
		if err := q.ClearDefaultPaymentMethod(ctx, 9); err != nil {
			return err
		}
		return q.CreatePaymentMethod(ctx, &domain.PaymentMethod{MethodID: "pm_c", UserID: 9, Provider: "stripe", ProviderRef: "pm_stripe_c", IsDefault: true})
	})
	require.NoError(t, err)

	methods, err := s.ListPaymentMethods(ctx, 9)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, "pm_c", methods[0].MethodID)
	assert.True(t, methods[0].IsDefault)
	assert.False(t, methods[1].IsDefault)

	_, err = s.GetPaymentMethod(ctx, 10, "pm_a")
	assert.ErrorIs(t, err, ErrPaymentMethodNotFound)
	assert.ErrorIs(t, s.DeletePaymentMethod(ctx, 10, "pm_a"), ErrPaymentMethodNotFound)
	require.NoError(t, s.DeletePaymentMethod(ctx, 9, "pm_a"))
}

func testOutbox(t *testing.T, s Store) {
	ctx := context.Background()
	ev := &OutboxEvent{AggregateId: uuid.NewString(), EventType: "order.created", Payload: json.RawMessage(`{"status":"PENDING"}`)}
	require.NoError(t, s.InsertOutboxEvent(ctx, ev))
	assert.NotZero(t, ev.ID)

	events, err := s.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "order.created", events[0].EventType)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(events[0].Payload))

	require.NoError(t, s.MarkEventAsPublished(ctx, ev.ID))
	events, err = s.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func testPaidWithoutInvoice(t *testing.T, s Store) {
	ctx := context.Background()
	paid := newTestOrder(11)
	pending := newTestOrder(11)
	require.NoError(t, s.CreateOrder(ctx, paid))
	require.NoError(t, s.CreateOrder(ctx, pending))
	require.NoError(t, s.UpdateOrderStatus(ctx, paid.OrderID, domain.OrderStatusPending, domain.OrderStatusPaid))

	orders, err := s.ListPaidOrdersWithoutInvoice(ctx, 100)
	require.NoError(t, err)
	mine := ordersOf(orders, 11)
	require.Len(t, mine, 1)
	assert.Equal(t, paid.OrderID, mine[0].OrderID)
	assert.Len(t, mine[0].Lines, 1)

	require.NoError(t, s.SetInvoiceRef(ctx, paid.OrderID, "invoices/x.html"))
	orders, err = s.ListPaidOrdersWithoutInvoice(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, ordersOf(orders, 11))
}

// ordersOf filters by user; the postgres contract run shares one database across subtests.
func ordersOf(orders []*domain.Order, userID int64) []*domain.Order {
	var out []*domain.Order
	for _, o := range orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}
