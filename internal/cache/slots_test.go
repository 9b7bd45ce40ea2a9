package cache

import (
	"context"
	"testing"
	"time"

	"eyeclinic/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*SlotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSlotCache(client, time.Minute), mr
}

func TestSlotCache(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	key := "2026-03-03:private:v1:r4"

	_, ok := c.GetSlots(ctx, key)
	assert.False(t, ok)

	starts := []model.Clock{model.MustParseClock("09:00"), model.MustParseClock("09:05")}
	c.SetSlots(ctx, key, starts)

	got, ok := c.GetSlots(ctx, key)
	require.True(t, ok)
	assert.Equal(t, starts, got)
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+key))

	mr.FastForward(2 * time.Minute)
	_, ok = c.GetSlots(ctx, key)
	assert.False(t, ok, "expired")
}

func TestSlotCacheEmptyList(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	c.SetSlots(ctx, "closed", nil)
	got, ok := c.GetSlots(ctx, "closed")
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestSlotCacheCorruptValue(t *testing.T) {
	c, mr := newCache(t)
	require.NoError(t, mr.Set(keyPrefix+"bad", "not json"))

	_, ok := c.GetSlots(context.Background(), "bad")
	assert.False(t, ok)
}

func TestSlotCacheRedisDown(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()

	c.SetSlots(context.Background(), "k", []model.Clock{540})
	_, ok := c.GetSlots(context.Background(), "k")
	assert.False(t, ok)
}
