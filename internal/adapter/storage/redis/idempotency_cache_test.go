package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*IdempotencyCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyCache(client), s
}

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	key := "topup:550e8400-e29b-41d4-a716-446655440000"
	entryID := uuid.New()

	miss, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, miss)

	require.NoError(t, cache.Set(ctx, key, entryID, 24*time.Hour))

	hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, entryID, hit)

	s.CheckGet(t, "ledger:posted:"+key, entryID.String())
	assert.Equal(t, 24*time.Hour, s.TTL("ledger:posted:"+key))
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "settlement:abc", uuid.New(), time.Second))
	s.FastForward(2 * time.Second)

	got, err := cache.Get(ctx, "settlement:abc")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got, "expired key reads as unknown")
}

func TestIdempotencyCache_CorruptValue(t *testing.T) {
	cache, s := newTestCache(t)

	require.NoError(t, s.Set("ledger:posted:refund:fulfillment:x", "not-a-uuid"))

	_, err := cache.Get(context.Background(), "refund:fulfillment:x")
	assert.ErrorContains(t, err, "redis idempotency decode")
}

func TestIdempotencyCache_RedisDown(t *testing.T) {
	cache, s := newTestCache(t)
	s.Close()

	_, err := cache.Get(context.Background(), "topup:x")
	assert.ErrorContains(t, err, "redis idempotency get")
	assert.Error(t, cache.Set(context.Background(), "topup:x", uuid.New(), time.Minute))
}
