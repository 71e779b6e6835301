package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type StatusEntry struct {
	Status    orders.Status `json:"status" msgpack:"status"`
	UpdatedAt time.Time     `json:"updated_at" msgpack:"updated_at"`
}

// StatusCache keeps the latest status per order for the read path.
type StatusCache struct {
	cache *cache.Cache
	TTL   time.Duration
}

// NewStatusCache caches in Redis only. localSize > 0 adds an in-process TinyLFU layer, which is only
// safe when a single instance writes statuses.
func NewStatusCache(rdb *redis.Client, localSize int) *StatusCache {
	opts := &cache.Options{Redis: rdb}
	if localSize > 0 {
		opts.LocalCache = cache.NewTinyLFU(localSize, time.Minute)
	}
	return &StatusCache{cache: cache.New(opts), TTL: TTLStatusCache}
}

// SetStatus implements processor.StatusCache.
func (c *StatusCache) SetStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error {
	return c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   fmt.Sprintf(KeyOrderStatus, orderID),
		Value: StatusEntry{Status: status, UpdatedAt: at},
		TTL:   c.TTL,
	})
}

// Status reports ok=false on a miss.
func (c *StatusCache) Status(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	var e StatusEntry
	err := c.cache.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID), &e)
	if errors.Is(err, cache.ErrCacheMiss) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	return e, true, nil
}
