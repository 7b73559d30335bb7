package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ordercore/order-service/internal/domain"
)

const idempotencyTTL = 24 * time.Hour

// Cache is a read-through fast path in front of the store. Postgres stays the
// source of truth; every miss or redis error falls back to the DB.
type Cache struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb}
}

// GetIdempotentOrderID resolves an idempotency key to the order it created.
func (c *Cache) GetIdempotentOrderID(ctx context.Context, key string) (uuid.UUID, error) {
	val, err := c.Client.Get(ctx, "order:idem:"+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, domain.ErrCacheMiss
		}
		return uuid.Nil, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, domain.ErrCacheMiss
	}
	return id, nil
}

func (c *Cache) SetIdempotentOrderID(ctx context.Context, key string, orderID uuid.UUID) error {
	return c.Client.Set(ctx, "order:idem:"+key, orderID.String(), idempotencyTTL).Err()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
