package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/google/uuid"
)

type Methods struct {
	store    repository.Store
	provider Provider
	logger   *slog.Logger
}

func NewMethods(store repository.Store, provider Provider, logger *slog.Logger) *Methods {
	return &Methods{store: store, provider: provider, logger: logger}
}

// Add stores the card behind a provider token. A new default replaces the previous one.
func (m *Methods) Add(ctx context.Context, userID int64, token string, makeDefault bool) (*domain.PaymentMethod, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrValidation)
	}

	card, err := m.provider.RetrievePaymentMethod(ctx, token)
	if err != nil {
		m.logger.ErrorContext(ctx, "retrieve payment method failed", "user_id", userID, "error", err)
		return nil, err
	}

	pm := &domain.PaymentMethod{
		MethodID:    newMethodID(),
		UserID:      userID,
		Provider:    m.provider.Name(),
		ProviderRef: card.ProviderRef,
		Brand:       card.Brand,
		Last4:       card.Last4,
		ExpMonth:    card.ExpMonth,
		ExpYear:     card.ExpYear,
		IsDefault:   makeDefault,
	}

	err = m.store.WithinTx(ctx, func(q repository.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}
		if makeDefault {
			if err := q.ClearDefaultPaymentMethod(ctx, userID); err != nil {
				return err
			}
		}
		return q.CreatePaymentMethod(ctx, pm)
	})
	if errors.Is(err, repository.ErrDuplicatePaymentMethod) {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err != nil {
		return nil, err
	}
	return pm, nil
}

func (m *Methods) List(ctx context.Context, userID int64) ([]*domain.PaymentMethod, error) {
	return m.store.ListPaymentMethods(ctx, userID)
}

// Delete removes one of the caller's methods. Unknown and foreign ids both report not found.
func (m *Methods) Delete(ctx context.Context, userID int64, methodID string) error {
	return m.store.DeletePaymentMethod(ctx, userID, methodID)
}

func newMethodID() string {
	return "pm_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
