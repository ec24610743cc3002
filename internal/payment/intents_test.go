package payment

import (
	"context"
	"fmt"
	"testing"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntent_Success(t *testing.T) {
	store := repository.NewMemoryStore()
	provider := &fakeProvider{intent: &domain.Intent{Provider: "fake", ProviderRef: "pi_1", ClientSecret: "secret_1"}}
	sut := NewIntents(store, provider, discardLogger())

	o := seedOrder(t, store, 1, domain.OrderStatusPending)
	pm := seedMethod(t, store, 1, "pm_a")

	intent, err := sut.CreateIntent(context.Background(), 1, o.OrderID, pm.MethodID)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ProviderRef)
	assert.Equal(t, "secret_1", intent.ClientSecret)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, int64(4838), req.AmountMinor)
	assert.Equal(t, "EUR", req.Currency)
	assert.Equal(t, "card_pm_a", req.MethodRef)
	assert.Equal(t, o.OrderID.String(), req.OrderID)
	assert.Equal(t, "order-"+o.OrderID.String()+"-pm_a", req.IdempotencyKey)

	stored, err := store.GetOrder(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", stored.PaymentRef)
	assert.Equal(t, domain.OrderStatusPending, stored.Status, "success waits for the webhook")
}

func TestCreateIntent_IdempotencyKeyPerMethod(t *testing.T) {
	store := repository.NewMemoryStore()
	provider := &fakeProvider{intent: &domain.Intent{Provider: "fake", ProviderRef: "pi_1"}}
	sut := NewIntents(store, provider, discardLogger())

	o := seedOrder(t, store, 1, domain.OrderStatusPending)
	seedMethod(t, store, 1, "pm_a")
	seedMethod(t, store, 1, "pm_b")

	for _, methodID := range []string{"pm_a", "pm_a", "pm_b"} {
		_, err := sut.CreateIntent(context.Background(), 1, o.OrderID, methodID)
		require.NoError(t, err)
	}

	require.Len(t, provider.requests, 3)
	assert.Equal(t, provider.requests[0].IdempotencyKey, provider.requests[1].IdempotencyKey, "retry with the same method")
	assert.NotEqual(t, provider.requests[0].IdempotencyKey, provider.requests[2].IdempotencyKey, "switching method")
	assert.Equal(t, "card_pm_b", provider.requests[2].MethodRef)
}

func TestCreateIntent_Decline_FailsOrder(t *testing.T) {
	store := repository.NewMemoryStore()
	provider := &fakeProvider{intentErr: &DeclineError{Code: "card_declined"}}
	sut := NewIntents(store, provider, discardLogger())

	o := seedOrder(t, store, 1, domain.OrderStatusPending)
	seedMethod(t, store, 1, "pm_a")

	_, err := sut.CreateIntent(context.Background(), 1, o.OrderID, "pm_a")
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)

	assert.Equal(t, domain.OrderStatusFailed, orderStatus(t, store, o.OrderID))
	assert.Equal(t, []string{"order.failed"}, outboxTypes(t, store))
}

func TestCreateIntent_ProviderOutage_LeavesPending(t *testing.T) {
	store := repository.NewMemoryStore()
	provider := &fakeProvider{intentErr: fmt.Errorf("%w: context deadline exceeded", domain.ErrProvider)}
	sut := NewIntents(store, provider, discardLogger())

	o := seedOrder(t, store, 1, domain.OrderStatusPending)
	seedMethod(t, store, 1, "pm_a")

	_, err := sut.CreateIntent(context.Background(), 1, o.OrderID, "pm_a")
	require.ErrorIs(t, err, domain.ErrProvider)

	assert.Equal(t, domain.OrderStatusPending, orderStatus(t, store, o.OrderID))
	assert.Empty(t, outboxTypes(t, store))
}

func TestCreateIntent_Preconditions(t *testing.T) {
	store := repository.NewMemoryStore()
	provider := &fakeProvider{intent: &domain.Intent{ProviderRef: "pi_1"}}
	sut := NewIntents(store, provider, discardLogger())
	ctx := context.Background()

	pending := seedOrder(t, store, 1, domain.OrderStatusPending)
	paid := seedOrder(t, store, 1, domain.OrderStatusPaid)
	seedMethod(t, store, 1, "pm_mine")
	seedMethod(t, store, 2, "pm_theirs")

	_, err := sut.CreateIntent(ctx, 1, uuid.New(), "pm_mine")
	assert.ErrorIs(t, err, domain.ErrNotFound, "unknown order")

	_, err = sut.CreateIntent(ctx, 2, pending.OrderID, "pm_theirs")
	assert.ErrorIs(t, err, domain.ErrNotFound, "foreign order")

	_, err = sut.CreateIntent(ctx, 1, paid.OrderID, "pm_mine")
	assert.ErrorIs(t, err, domain.ErrInconsistentTransition, "order already paid")

	_, err = sut.CreateIntent(ctx, 1, pending.OrderID, "pm_theirs")
	assert.ErrorIs(t, err, domain.ErrNotFound, "foreign payment method")

	assert.Empty(t, provider.requests, "provider must not be called")
}

func TestCreateIntent_DeclineAfterWebhookKeepsPaid(t *testing.T) {
	store := repository.NewMemoryStore()
	o := seedOrder(t, store, 1, domain.OrderStatusPending)
	seedMethod(t, store, 1, "pm_a")

	// the webhook settles the order while the provider call is in flight
	provider := &settlingProvider{store: store, orderID: o.OrderID}
	sut := NewIntents(store, provider, discardLogger())

	_, err := sut.CreateIntent(context.Background(), 1, o.OrderID, "pm_a")
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)
	assert.Equal(t, domain.OrderStatusPaid, orderStatus(t, store, o.OrderID))
}

type settlingProvider struct {
	fakeProvider
	store   repository.Store
	orderID uuid.UUID
}

func (p *settlingProvider) CreatePaymentIntent(ctx context.Context, _ IntentRequest) (*domain.Intent, error) {
	if err := p.store.UpdateOrderStatus(ctx, p.orderID, domain.OrderStatusPending, domain.OrderStatusPaid); err != nil {
		return nil, err
	}
	return nil, &DeclineError{Code: "card_declined"}
}
