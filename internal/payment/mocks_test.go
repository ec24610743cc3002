package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	intent    *domain.Intent
	intentErr error
	card      *Card
	cardErr   error
	requests  []IntentRequest
	tokens    []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreatePaymentIntent(_ context.Context, req IntentRequest) (*domain.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return f.intent, nil
}

func (f *fakeProvider) RetrievePaymentMethod(_ context.Context, token string) (*Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if f.cardErr != nil {
		return nil, f.cardErr
	}
	c := *f.card
	return &c, nil
}

type recordingHook struct {
	mu     sync.Mutex
	orders []*domain.Order
}

func (h *recordingHook) OnOrderPaid(_ context.Context, o *domain.Order) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orders = append(h.orders, o)
}

func (h *recordingHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.orders)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedOrder(t *testing.T, store repository.Store, userID int64, status domain.OrderStatus) *domain.Order {
	t.Helper()
	o := &domain.Order{
		OrderID:    uuid.New(),
		UserID:     userID,
		Currency:   "EUR",
		Subtotal:   decimal.RequireFromString("39.98"),
		TaxTotal:   decimal.RequireFromString("8.40"),
		TaxPercent: decimal.RequireFromString("21.00"),
		TaxName:    "IVA General",
		Amount:     decimal.RequireFromString("48.38"),
		Status:     domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{ItemType: domain.ItemTypeAlbum, ProductRef: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
		},
	}
	require.NoError(t, store.CreateOrder(context.Background(), o))

	ctx := context.Background()
	switch status {
	case domain.OrderStatusPending:
	case domain.OrderStatusPaid, domain.OrderStatusFailed:
		require.NoError(t, store.UpdateOrderStatus(ctx, o.OrderID, domain.OrderStatusPending, status))
	case domain.OrderStatusRefunded:
		require.NoError(t, store.UpdateOrderStatus(ctx, o.OrderID, domain.OrderStatusPending, domain.OrderStatusPaid))
		require.NoError(t, store.UpdateOrderStatus(ctx, o.OrderID, domain.OrderStatusPaid, domain.OrderStatusRefunded))
	}
	o.Status = status
	return o
}

func seedMethod(t *testing.T, store repository.Store, userID int64, methodID string) *domain.PaymentMethod {
	t.Helper()
	pm := &domain.PaymentMethod{
		MethodID:    methodID,
		UserID:      userID,
		Provider:    "fake",
		ProviderRef: "card_" + methodID,
		Brand:       "visa",
		Last4:       "4242",
		ExpMonth:    12,
		ExpYear:     2030,
	}
	require.NoError(t, store.CreatePaymentMethod(context.Background(), pm))
	return pm
}

func orderStatus(t *testing.T, store repository.Store, id uuid.UUID) domain.OrderStatus {
	t.Helper()
	o, err := store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func outboxTypes(t *testing.T, store repository.Store) []string {
	t.Helper()
	events, err := store.GetUnprocessedEvents(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	return types
}
