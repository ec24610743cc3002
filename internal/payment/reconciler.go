package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/metrics"
	"github.com/fjod/go_pay/internal/order"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeNoop         Outcome = "noop"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeInconsistent Outcome = "inconsistent"
	OutcomeIgnored      Outcome = "ignored"
)

// PaidHook runs after an order has committed as PAID. It must not fail the caller.
type PaidHook interface {
	OnOrderPaid(ctx context.Context, o *domain.Order)
}

type Reconciler struct {
	store    repository.Store
	verifier *Verifier
	paid     PaidHook
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewReconciler(store repository.Store, verifier *Verifier, paid PaidHook, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:    store,
		verifier: verifier,
		paid:     paid,
		logger:   logger,
		metrics:  m,
	}
}

// HandleWebhook verifies and applies one provider notification. Signature and payload
// errors leave every order untouched.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if err := r.verifier.Verify(payload, signature); err != nil {
		r.logger.WarnContext(ctx, "webhook signature rejected", "error", err)
		return "", err
	}

	ev, err := DecodeEvent(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "webhook payload rejected", "error", err)
		return "", err
	}

	if ev.Kind == domain.PaymentIgnored {
		r.logger.DebugContext(ctx, "webhook event ignored", "event_id", ev.ID, "type", ev.RawType)
		r.metrics.PaymentEvent(ev.RawType, string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}
	if !ev.HasOrderID {
		r.logger.ErrorContext(ctx, "webhook event without order_id metadata", "event_id", ev.ID, "type", ev.RawType, "payment_ref", ev.ProviderRef)
		r.metrics.PaymentEvent(string(ev.Kind), string(OutcomeNotFound))
		return OutcomeNotFound, nil
	}

	switch ev.Kind {
	case domain.PaymentSucceeded:
		return r.OnPaymentSucceeded(ctx, ev.OrderID, ev.ID)
	case domain.PaymentFailed:
		return r.OnPaymentFailed(ctx, ev.OrderID, ev.ID)
	default:
		return r.OnPaymentRefunded(ctx, ev.OrderID, ev.ID)
	}
}

func (r *Reconciler) OnPaymentSucceeded(ctx context.Context, orderID uuid.UUID, eventID string) (Outcome, error) {
	return r.apply(ctx, domain.PaymentSucceeded, orderID, eventID)
}

// OnPaymentFailed fails a PENDING order. In any other state the event changes nothing.
func (r *Reconciler) OnPaymentFailed(ctx context.Context, orderID uuid.UUID, eventID string) (Outcome, error) {
	return r.apply(ctx, domain.PaymentFailed, orderID, eventID)
}

func (r *Reconciler) OnPaymentRefunded(ctx context.Context, orderID uuid.UUID, eventID string) (Outcome, error) {
	return r.apply(ctx, domain.PaymentRefunded, orderID, eventID)
}

type transitionRule struct {
	target    domain.OrderStatus
	eventType string
	// strict rejects the event in any other state; otherwise it is a no-op
	strict bool
}

var rules = map[domain.PaymentEventKind]transitionRule{
	domain.PaymentSucceeded: {target: domain.OrderStatusPaid, eventType: order.EventPaid, strict: true},
	domain.PaymentFailed:    {target: domain.OrderStatusFailed, eventType: order.EventFailed},
	domain.PaymentRefunded:  {target: domain.OrderStatusRefunded, eventType: order.EventRefunded, strict: true},
}

func (r *Reconciler) apply(ctx context.Context, kind domain.PaymentEventKind, orderID uuid.UUID, eventID string) (Outcome, error) {
	rule := rules[kind]

	var (
		outcome Outcome
		current domain.OrderStatus
		settled *domain.Order
	)
	err := r.store.WithinTx(ctx, func(q repository.Queries) error {
		o, err := q.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, repository.ErrOrderNotFound) {
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		current = o.Status

		if eventID != "" {
			fresh, err := q.MarkEventProcessed(ctx, repository.ProcessedEvent{
				EventID:   eventID,
				EventType: string(kind),
				OrderID:   orderID,
			})
			if err != nil {
				return err
			}
			if !fresh {
				outcome = OutcomeDuplicate
				return nil
			}
		}

		switch {
		case o.Status == rule.target:
			outcome = OutcomeDuplicate
			return nil
		case !domain.CanTransitionTo(o.Status, rule.target) && rule.strict:
			outcome = OutcomeInconsistent
			return nil
		case !domain.CanTransitionTo(o.Status, rule.target):
			outcome = OutcomeNoop
			return nil
		}

		if err := q.UpdateOrderStatus(ctx, orderID, o.Status, rule.target); err != nil {
			return err
		}
		o.Status = rule.target

		ev, err := order.NewEvent(rule.eventType, o)
		if err != nil {
			return err
		}
		if err := q.InsertOutboxEvent(ctx, ev); err != nil {
			return err
		}

		outcome = OutcomeApplied
		settled = o
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "payment event not applied", "order_id", orderID, "event_id", eventID, "kind", kind, "error", err)
		r.metrics.PaymentEvent(string(kind), "error")
		return "", err
	}
	r.metrics.PaymentEvent(string(kind), string(outcome))

	switch outcome {
	case OutcomeNotFound:
		r.logger.ErrorContext(ctx, "payment event for unknown order", "order_id", orderID, "event_id", eventID, "kind", kind)
	case OutcomeDuplicate, OutcomeNoop:
		r.logger.InfoContext(ctx, "payment event already reflected", "order_id", orderID, "event_id", eventID, "kind", kind, "status", current, "outcome", outcome)
	case OutcomeInconsistent:
		r.logger.ErrorContext(ctx, "payment event conflicts with order status", "order_id", orderID, "event_id", eventID, "kind", kind, "status", current)
		return outcome, fmt.Errorf("%w: %s on %s order", domain.ErrInconsistentTransition, kind, current)
	case OutcomeApplied:
		r.logger.InfoContext(ctx, "order status changed", "order_id", orderID, "event_id", eventID, "status", rule.target)
		if kind == domain.PaymentSucceeded && r.paid != nil {
			r.paid.OnOrderPaid(ctx, settled)
		}
	}
	return outcome, nil
}
