package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/order"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/google/uuid"
)

type Intents struct {
	store    repository.Store
	provider Provider
	logger   *slog.Logger
}

func NewIntents(store repository.Store, provider Provider, logger *slog.Logger) *Intents {
	return &Intents{store: store, provider: provider, logger: logger}
}

// CreateIntent asks the provider to charge a PENDING order with one of the caller's saved
// methods. No lock is held during the provider call. A decline fails the order; a timeout or
// outage leaves it PENDING.
func (s *Intents) CreateIntent(ctx context.Context, userID int64, orderID uuid.UUID, methodID string) (*domain.Intent, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: order is %s", domain.ErrInconsistentTransition, o.Status)
	}

	pm, err := s.store.GetPaymentMethod(ctx, userID, methodID)
	if err != nil {
		return nil, err
	}

	// a retry with the same method replays the provider's intent; another method gets a fresh one
	intent, err := s.provider.CreatePaymentIntent(ctx, IntentRequest{
		AmountMinor:    domain.MinorUnits(o.Amount),
		Currency:       o.Currency,
		MethodRef:      pm.ProviderRef,
		OrderID:        o.OrderID.String(),
		Description:    "Payment for order " + o.OrderID.String(),
		IdempotencyKey: intentKey(o.OrderID, pm.MethodID),
	})
	if err != nil {
		if isDecline(err) {
			s.logger.WarnContext(ctx, "payment declined", "order_id", orderID, "error", err)
			if ferr := s.markFailed(ctx, orderID); ferr != nil {
				s.logger.ErrorContext(ctx, "mark order failed after decline", "order_id", orderID, "error", ferr)
			}
			return nil, err
		}
		s.logger.ErrorContext(ctx, "create payment intent failed", "order_id", orderID, "step", "provider", "error", err)
		return nil, err
	}

	if err := s.store.SetPaymentRef(ctx, orderID, intent.ProviderRef); err != nil {
		return nil, fmt.Errorf("record payment ref: %w", err)
	}
	s.logger.InfoContext(ctx, "payment intent created", "order_id", orderID, "payment_ref", intent.ProviderRef)
	return intent, nil
}

// markFailed moves a still PENDING order to FAILED under a row lock. A concurrent webhook that
// already settled the order wins.
func (s *Intents) markFailed(ctx context.Context, orderID uuid.UUID) error {
	return s.store.WithinTx(ctx, func(q repository.Queries) error {
		o, err := q.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !domain.CanTransitionTo(o.Status, domain.OrderStatusFailed) {
			return nil
		}
		if err := q.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusFailed); err != nil {
			return err
		}
		o.Status = domain.OrderStatusFailed
		ev, err := order.NewEvent(order.EventFailed, o)
		if err != nil {
			return err
		}
		return q.InsertOutboxEvent(ctx, ev)
	})
}

func intentKey(orderID uuid.UUID, methodID string) string {
	return "order-" + orderID.String() + "-" + methodID
}
