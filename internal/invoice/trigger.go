package invoice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/metrics"
	"github.com/fjod/go_pay/internal/repository"
)

type Trigger struct {
	store    repository.Store
	renderer Renderer
	files    ArtifactStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewTrigger(store repository.Store, renderer Renderer, files ArtifactStore, logger *slog.Logger, m *metrics.Metrics) *Trigger {
	return &Trigger{
		store:    store,
		renderer: renderer,
		files:    files,
		logger:   logger,
		metrics:  m,
	}
}

// OnOrderPaid generates the invoice for a freshly paid order. Failures are logged and leave
// the order PAID without an invoice reference, to be picked up by RetryMissing.
func (t *Trigger) OnOrderPaid(ctx context.Context, o *domain.Order) {
	if err := t.generate(ctx, o); err != nil {
		t.metrics.Invoice("failed")
		t.logger.ErrorContext(ctx, "invoice generation failed", "order_id", o.OrderID, "error", err)
		return
	}
	t.metrics.Invoice("stored")
}

func (t *Trigger) generate(ctx context.Context, o *domain.Order) error {
	doc, err := t.renderer.Render(ctx, o)
	if err != nil {
		return err
	}

	ref, err := t.files.Save(ctx, Number(o)+"."+t.renderer.Extension(), doc)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRender, err)
	}

	if err := t.store.SetInvoiceRef(ctx, o.OrderID, ref); err != nil {
		return fmt.Errorf("record invoice ref: %w", err)
	}
	t.logger.InfoContext(ctx, "invoice stored", "order_id", o.OrderID, "invoice_ref", ref)
	return nil
}

// RetryMissing generates invoices for up to limit PAID orders that have none yet.
// It returns how many were generated.
func (t *Trigger) RetryMissing(ctx context.Context, limit int) (int, error) {
	orders, err := t.store.ListPaidOrdersWithoutInvoice(ctx, limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := t.generate(ctx, o); err != nil {
			t.metrics.Invoice("failed")
			t.logger.ErrorContext(ctx, "invoice retry failed", "order_id", o.OrderID, "error", err)
			continue
		}
		t.metrics.Invoice("stored")
		done++
	}
	return done, nil
}
