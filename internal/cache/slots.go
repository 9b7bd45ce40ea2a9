// Package cache memoises slot listings in redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"eyeclinic/internal/model"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "eyeclinic:slots:"

// SlotCache stores generated slot lists. Its keys already carry the rules
// version and day revision, so the TTL only bounds memory.
type SlotCache struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewSlotCache(client redis.UniversalClient, ttl time.Duration) *SlotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SlotCache{redis: client, ttl: ttl}
}

// GetSlots returns the cached list. Any redis failure reads as a miss.
func (c *SlotCache) GetSlots(ctx context.Context, key string) ([]model.Clock, bool) {
	val, err := c.redis.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var starts []model.Clock
	if err := json.Unmarshal(val, &starts); err != nil {
		return nil, false
	}
	return starts, true
}

func (c *SlotCache) SetSlots(ctx context.Context, key string, starts []model.Clock) {
	if starts == nil {
		starts = []model.Clock{}
	}
	data, err := json.Marshal(starts)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}
