package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryGuard suppresses concurrent duplicate IPN deliveries. It is an
// optimisation only: the conditional update in the store is what guarantees a
// single transition.
type DeliveryGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeliveryGuard(rdb *redis.Client, ttl time.Duration) *DeliveryGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DeliveryGuard{rdb: rdb, ttl: ttl}
}

func IPNKey(typeEvent, ref string) string {
	return "ipn:" + typeEvent + ":" + ref
}

// Claim marks key as in flight. It returns false when another delivery holds
// the key. On Redis errors it returns true with the error: callers proceed.
func (g *DeliveryGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// Release lets the next delivery for key through, e.g. after a failed attempt.
func (g *DeliveryGuard) Release(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, key).Err()
}
