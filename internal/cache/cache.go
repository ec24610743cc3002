package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_pay/internal/domain"
)

// CartCache holds the active cart with its lines, keyed by user.
//
// Every user has an invalidation generation. A reader takes Version before loading the cart
// from the store and hands it back to Set; Set drops the write when Invalidate ran in between,
// so a load that raced a cart change can never overwrite the invalidation.
type CartCache interface {
	Get(ctx context.Context, userID int64) (*domain.Cart, error)
	Version(ctx context.Context, userID int64) (int64, error)
	// Set reports whether the cart was stored.
	Set(ctx context.Context, userID int64, version int64, cart *domain.Cart) (bool, error)
	// Invalidate drops the cached cart and bumps the generation.
	Invalidate(ctx context.Context, userID int64) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop is used when no Redis address is configured; every read misses.
type Noop struct{}

func (Noop) Get(context.Context, int64) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (Noop) Version(context.Context, int64) (int64, error) { return 0, nil }

func (Noop) Set(context.Context, int64, int64, *domain.Cart) (bool, error) { return false, nil }

func (Noop) Invalidate(context.Context, int64) error { return nil }
