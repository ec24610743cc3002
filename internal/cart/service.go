package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fjod/go_pay/internal/cache"
	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/pricing"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type LineInput struct {
	ProductRef int64
	Quantity   int
	UnitPrice  decimal.Decimal
	ItemType   string
}

// View is the active cart with totals computed for one region.
type View struct {
	Cart   *domain.Cart
	Totals domain.Totals
}

type Service struct {
	store  repository.Store
	cache  cache.CartCache
	calc   *pricing.Calculator
	logger *slog.Logger
	sfg    singleflight.Group // collapses concurrent cache misses per user
}

func NewService(store repository.Store, c cache.CartCache, calc *pricing.Calculator, logger *slog.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		store:  store,
		cache:  c,
		calc:   calc,
		logger: logger,
	}
}

// GetOrCreateActiveCart returns the user's ACTIVE cart. A cart left ORDERED by a previous
// checkout is removed and replaced.
func (s *Service) GetOrCreateActiveCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	var cart *domain.Cart
	err := s.store.WithinTx(ctx, func(q repository.Queries) error {
		var err error
		cart, err = activeCart(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func activeCart(ctx context.Context, q repository.Queries, userID int64) (*domain.Cart, error) {
	if err := q.LockUser(ctx, userID); err != nil {
		return nil, err
	}

	cart, err := q.GetCart(ctx, userID, domain.CartStatusActive)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}

	if err := q.DeleteCarts(ctx, userID, domain.CartStatusOrdered); err != nil {
		return nil, fmt.Errorf("drop ordered cart: %w", err)
	}
	return q.CreateCart(ctx, userID)
}

func (s *Service) UpsertLine(ctx context.Context, userID int64, in LineInput) (*domain.CartLine, error) {
	itemType, err := validateLine(in)
	if err != nil {
		return nil, err
	}

	var line *domain.CartLine
	err = s.store.WithinTx(ctx, func(q repository.Queries) error {
		cart, err := activeCart(ctx, q, userID)
		if err != nil {
			return err
		}
		line, err = q.UpsertCartLine(ctx, domain.CartLine{
			CartID:     cart.ID,
			ProductRef: in.ProductRef,
			ItemType:   itemType,
			Quantity:   in.Quantity,
			UnitPrice:  in.UnitPrice,
		})
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "upsert cart line failed", "user_id", userID, "product_ref", in.ProductRef, "error", err)
		return nil, err
	}

	s.invalidate(userID)
	return line, nil
}

func validateLine(in LineInput) (domain.ItemType, error) {
	if in.ProductRef <= 0 {
		return "", fmt.Errorf("%w: product id must be positive", domain.ErrValidation)
	}
	if in.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if in.UnitPrice.IsNegative() {
		return "", fmt.Errorf("%w: unit price must not be negative", domain.ErrValidation)
	}
	if !in.UnitPrice.Equal(in.UnitPrice.Truncate(2)) {
		return "", fmt.Errorf("%w: unit price has more than 2 decimals", domain.ErrValidation)
	}
	itemType, ok := domain.ParseItemType(in.ItemType)
	if !ok {
		return "", fmt.Errorf("%w: unknown item type %q", domain.ErrValidation, in.ItemType)
	}
	return itemType, nil
}

// RemoveLine deletes a line of the caller's active cart. Lines of other carts report not found.
func (s *Service) RemoveLine(ctx context.Context, userID, lineID int64) error {
	err := s.store.WithinTx(ctx, func(q repository.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}
		cart, err := q.GetCart(ctx, userID, domain.CartStatusActive)
		if errors.Is(err, repository.ErrCartNotFound) {
			return repository.ErrCartLineNotFound
		}
		if err != nil {
			return err
		}
		return q.DeleteCartLine(ctx, cart.ID, lineID)
	})
	if err != nil {
		return err
	}

	s.invalidate(userID)
	return nil
}

func (s *Service) ListLines(ctx context.Context, cart *domain.Cart) ([]domain.CartLine, error) {
	return s.store.ListCartLines(ctx, cart.ID)
}

// View returns the active cart and its totals. Cart and lines come from the cache when present.
func (s *Service) View(ctx context.Context, userID int64, region string) (*View, error) {
	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile, err := s.store.GetUserRegion(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read profile region: %w", err)
	}

	totals, err := s.calc.Compute(ctx, cart.Lines, pricing.RegionRequest{Code: region, ProfileCode: profile})
	if err != nil {
		return nil, err
	}
	return &View{Cart: cart, Totals: totals}, nil
}

func (s *Service) loadCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(flightKey(userID), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cart cache get failed", "user_id", userID, "error", err)
		}

		// the generation must be read before the store, or an invalidation between the two goes unseen
		version, verr := s.cache.Version(ctx, userID)
		if verr != nil {
			s.logger.WarnContext(ctx, "cart cache version failed", "user_id", userID, "error", verr)
		}

		cart, err = s.GetOrCreateActiveCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		cart.Lines, err = s.ListLines(ctx, cart)
		if err != nil {
			return nil, err
		}

		if verr == nil {
			stored, err := s.cache.Set(ctx, userID, version, cart)
			if err != nil {
				s.logger.WarnContext(ctx, "cart cache set failed", "user_id", userID, "error", err)
			} else if !stored {
				s.logger.DebugContext(ctx, "cart changed while loading, not cached", "user_id", userID)
			}
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// Invalidate drops the cached view of a user's cart.
func (s *Service) Invalidate(userID int64) {
	s.invalidate(userID)
}

func (s *Service) invalidate(userID int64) {
	// later views must not join a load that started before the change
	s.sfg.Forget(flightKey(userID))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("cart cache invalidate failed", "user_id", userID, "error", err)
	}
}

func flightKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
