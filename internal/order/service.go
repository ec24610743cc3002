package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/metrics"
	"github.com/fjod/go_pay/internal/pricing"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/google/uuid"
)

// CartInvalidator drops cached cart views once a checkout has committed.
type CartInvalidator interface {
	Invalidate(userID int64)
}

type Service struct {
	store    repository.Store
	calc     *pricing.Calculator
	carts    CartInvalidator
	currency string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewService(store repository.Store, calc *pricing.Calculator, carts CartInvalidator, currency string, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		calc:     calc,
		carts:    carts,
		currency: currency,
		logger:   logger,
		metrics:  m,
	}
}

// CreateFromCart freezes the user's active cart into a PENDING order. Totals, order, lines,
// cart status and the outbox row commit together or not at all.
func (s *Service) CreateFromCart(ctx context.Context, userID int64, regionCode string) (*domain.Order, error) {
	var created *domain.Order
	err := s.store.WithinTx(ctx, func(q repository.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}

		cart, err := q.GetCart(ctx, userID, domain.CartStatusActive)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return err
		}

		lines, err := q.ListCartLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}

		profile, err := q.GetUserRegion(ctx, userID)
		if err != nil {
			return fmt.Errorf("read profile region: %w", err)
		}
		totals, err := s.calc.Compute(ctx, lines, pricing.RegionRequest{Code: regionCode, ProfileCode: profile})
		if err != nil {
			return fmt.Errorf("compute totals: %w", err)
		}

		o := &domain.Order{
			OrderID:    uuid.New(),
			UserID:     userID,
			Currency:   s.currency,
			Subtotal:   totals.Subtotal,
			TaxTotal:   totals.TaxAmount,
			TaxPercent: totals.TaxPercent,
			TaxName:    totals.TaxName,
			Amount:     totals.Total,
			Status:     domain.OrderStatusPending,
			Lines:      make([]domain.OrderLine, 0, len(lines)),
		}
		for _, l := range lines {
			o.Lines = append(o.Lines, domain.OrderLine{
				ItemType:   l.ItemType,
				ProductRef: l.ProductRef,
				Quantity:   l.Quantity,
				UnitPrice:  l.UnitPrice,
			})
		}

		if err := q.CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := q.SetCartStatus(ctx, cart.ID, domain.CartStatusOrdered); err != nil {
			return err
		}

		ev, err := NewEvent(EventCreated, o)
		if err != nil {
			return err
		}
		if err := q.InsertOutboxEvent(ctx, ev); err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrEmptyCart) {
			s.logger.ErrorContext(ctx, "create order failed", "user_id", userID, "error", err)
		}
		return nil, err
	}

	if s.carts != nil {
		s.carts.Invalidate(userID)
	}
	s.metrics.OrderCreated()
	s.logger.InfoContext(ctx, "order created",
		"order_id", created.OrderID,
		"user_id", userID,
		"amount", domain.FormatAmount(created.Amount),
		"tax_name", created.TaxName,
	)
	return created, nil
}

// GetOrder returns the order only to its owner. Someone else's order is reported as not found.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID, userID int64) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}
