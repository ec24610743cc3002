package order

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/pricing"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRules map[string]domain.TaxRate

func (s stubRules) Lookup(_ context.Context, region string) (domain.TaxRate, bool, error) {
	r, ok := s[region]
	return r, ok, nil
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []int64
}

func (r *recordingInvalidator) Invalidate(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
}

// failingOutboxStore fails every outbox insert made inside a transaction.
type failingOutboxStore struct {
	*repository.MemoryStore
}

func (f failingOutboxStore) WithinTx(ctx context.Context, fn func(q repository.Queries) error) error {
	return f.MemoryStore.WithinTx(ctx, func(q repository.Queries) error {
		return fn(failingQueries{q})
	})
}

type failingQueries struct {
	repository.Queries
}

func (failingQueries) InsertOutboxEvent(context.Context, *repository.OutboxEvent) error {
	return errors.New("outbox insert failed")
}

func newCalculator() *pricing.Calculator {
	return pricing.NewCalculator(stubRules{
		"ES": {Region: "ES", Name: "IVA", Percent: decimal.NewFromInt(10)},
	}, pricing.Config{
		DefaultRegion: "ES",
		Fallback:      domain.TaxRate{Name: "IVA General", Percent: decimal.NewFromInt(21)},
	})
}

func newTestService(store repository.Store) (*Service, *recordingInvalidator) {
	inv := &recordingInvalidator{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, newCalculator(), inv, "EUR", logger, nil), inv
}

func fillCart(t *testing.T, store repository.Store, userID int64, lines ...domain.CartLine) *domain.Cart {
	t.Helper()
	ctx := context.Background()
	cart, err := store.CreateCart(ctx, userID)
	require.NoError(t, err)
	for _, l := range lines {
		l.CartID = cart.ID
		_, err := store.UpsertCartLine(ctx, l)
		require.NoError(t, err)
	}
	return cart
}

func line(product int64, qty int, price string) domain.CartLine {
	return domain.CartLine{
		ProductRef: product,
		ItemType:   domain.ItemTypeTrack,
		Quantity:   qty,
		UnitPrice:  decimal.RequireFromString(price),
	}
}

func TestCreateFromCart_FreezesTotals(t *testing.T) {
	store := repository.NewMemoryStore()
	sut, inv := newTestService(store)
	ctx := context.Background()
	cart := fillCart(t, store, 1, line(1, 2, "100.00"))

	o, err := sut.CreateFromCart(ctx, 1, "ES")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, "EUR", o.Currency)
	assert.Equal(t, "200.00", domain.FormatAmount(o.Subtotal))
	assert.Equal(t, "20.00", domain.FormatAmount(o.TaxTotal))
	assert.Equal(t, "220.00", domain.FormatAmount(o.Amount))
	assert.Equal(t, "IVA", o.TaxName)
	assert.True(t, o.Balanced())
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 2, o.Lines[0].Quantity)

	stored, err := store.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, o.Amount.String(), stored.Amount.String())

	_, err = store.GetCart(ctx, 1, domain.CartStatusActive)
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
	ordered, err := store.GetCart(ctx, 1, domain.CartStatusOrdered)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, ordered.ID)

	assert.Equal(t, []int64{1}, inv.users)
}

func TestCreateFromCart_FallbackRate(t *testing.T) {
	store := repository.NewMemoryStore()
	calc := pricing.NewCalculator(stubRules{}, pricing.Config{
		DefaultRegion: "ES",
		Fallback:      domain.TaxRate{Name: "IVA General", Percent: decimal.NewFromInt(21)},
	})
	sut := NewService(store, calc, nil, "EUR", slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	fillCart(t, store, 1, line(1, 2, "19.99"))

	o, err := sut.CreateFromCart(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, "39.98", domain.FormatAmount(o.Subtotal))
	assert.Equal(t, "8.40", domain.FormatAmount(o.TaxTotal))
	assert.Equal(t, "48.38", domain.FormatAmount(o.Amount))
}

func TestCreateFromCart_WritesCreatedEvent(t *testing.T) {
	store := repository.NewMemoryStore()
	sut, _ := newTestService(store)
	fillCart(t, store, 1, line(4, 1, "5.00"))

	o, err := sut.CreateFromCart(context.Background(), 1, "ES")
	require.NoError(t, err)

	events, err := store.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].EventType)
	assert.Equal(t, o.OrderID.String(), events[0].AggregateId)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "5.50", payload["amount"])
	assert.Equal(t, "PENDING", payload["status"])
	assert.Len(t, payload["lines"], 1)
}

func TestCreateFromCart_EmptyCart(t *testing.T) {
	t.Run("no cart", func(t *testing.T) {
		store := repository.NewMemoryStore()
		sut, inv := newTestService(store)

		_, err := sut.CreateFromCart(context.Background(), 1, "ES")
		require.ErrorIs(t, err, domain.ErrEmptyCart)
		assert.Empty(t, inv.users)
	})

	t.Run("cart without lines", func(t *testing.T) {
		store := repository.NewMemoryStore()
		sut, _ := newTestService(store)
		fillCart(t, store, 1)

		_, err := sut.CreateFromCart(context.Background(), 1, "ES")
		require.ErrorIs(t, err, domain.ErrEmptyCart)

		orders, err := store.ListOrdersByUser(context.Background(), 1)
		require.NoError(t, err)
		assert.Empty(t, orders)

		_, err = store.GetCart(context.Background(), 1, domain.CartStatusActive)
		assert.NoError(t, err, "cart must stay active")
	})
}

func TestCreateFromCart_RollsBackOnFailure(t *testing.T) {
	mem := repository.NewMemoryStore()
	sut, inv := newTestService(failingOutboxStore{mem})
	fillCart(t, mem, 1, line(1, 1, "10.00"))

	_, err := sut.CreateFromCart(context.Background(), 1, "ES")
	require.ErrorContains(t, err, "outbox insert failed")

	orders, err := mem.ListOrdersByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, orders)

	cart, err := mem.GetCart(context.Background(), 1, domain.CartStatusActive)
	require.NoError(t, err)
	lines, err := mem.ListCartLines(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	assert.Empty(t, inv.users)
}

func TestCreateFromCart_ConcurrentCheckoutsCreateOneOrder(t *testing.T) {
	store := repository.NewMemoryStore()
	sut, _ := newTestService(store)
	fillCart(t, store, 1, line(1, 1, "10.00"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		empty     int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sut.CreateFromCart(context.Background(), 1, "ES")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrEmptyCart):
				empty++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, empty)

	orders, err := store.ListOrdersByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestGetOrder_Ownership(t *testing.T) {
	store := repository.NewMemoryStore()
	sut, _ := newTestService(store)
	fillCart(t, store, 1, line(1, 1, "10.00"))

	o, err := sut.CreateFromCart(context.Background(), 1, "ES")
	require.NoError(t, err)

	got, err := sut.GetOrder(context.Background(), o.OrderID, 1)
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, got.OrderID)

	_, errForeign := sut.GetOrder(context.Background(), o.OrderID, 2)
	_, errMissing := sut.GetOrder(context.Background(), uuid.New(), 2)
	assert.ErrorIs(t, errForeign, domain.ErrNotFound)
	assert.Equal(t, errMissing.Error(), errForeign.Error())
}

func TestListOrders_NewestFirst(t *testing.T) {
	store := repository.NewMemoryStore()
	sut, _ := newTestService(store)
	ctx := context.Background()

	fillCart(t, store, 1, line(1, 1, "1.00"))
	first, err := sut.CreateFromCart(ctx, 1, "ES")
	require.NoError(t, err)

	require.NoError(t, store.DeleteCarts(ctx, 1, domain.CartStatusOrdered))
	fillCart(t, store, 1, line(2, 1, "2.00"))
	second, err := sut.CreateFromCart(ctx, 1, "ES")
	require.NoError(t, err)

	orders, err := sut.ListOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.OrderID, orders[0].OrderID)
	assert.Equal(t, first.OrderID, orders[1].OrderID)
}
