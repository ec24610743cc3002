package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// storeIfCurrent writes the cart only while the generation still matches the caller's.
// KEYS: generation, cart. ARGV: expected generation, cart JSON, ttl in ms.
var storeIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache keeps one JSON document per user next to a generation counter.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
	// genTTL outlives any cart entry, so an expired generation never readmits a stale write
	genTTL time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
		genTTL:  24 * time.Hour,
	}
}

func (r *RedisCache) Get(ctx context.Context, userID int64) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cached cart: %w", err)
	}
	return &cart, nil
}

func (r *RedisCache) Version(ctx context.Context, userID int64) (int64, error) {
	gen, err := r.client.Get(ctx, genKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cart generation: %w", err)
	}
	return gen, nil
}

func (r *RedisCache) Set(ctx context.Context, userID int64, version int64, cart *domain.Cart) (bool, error) {
	data, err := json.Marshal(cart)
	if err != nil {
		return false, fmt.Errorf("encode cart: %w", err)
	}

	// jitter spreads expiry so cached carts do not all refill at once
	ttl := r.baseTTL + time.Duration(rand.Intn(5))*time.Minute
	stored, err := storeIfCurrent.Run(ctx, r.client,
		[]string{genKey(userID), cartKey(userID)},
		strconv.FormatInt(version, 10), data, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis set cart: %w", err)
	}
	return stored == 1, nil
}

func (r *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(userID))
		pipe.Expire(ctx, genKey(userID), r.genTTL)
		pipe.Del(ctx, cartKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate cart: %w", err)
	}
	return nil
}

func cartKey(userID int64) string {
	return fmt.Sprintf("billing:cart:%d", userID)
}

func genKey(userID int64) string {
	return fmt.Sprintf("billing:cart:%d:gen", userID)
}
