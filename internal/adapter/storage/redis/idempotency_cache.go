package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis.
// It remembers which ledger entry holds a posted idempotency key so repeated
// command runs can skip the database lookup. A miss proves nothing; the
// unique column in wallet_transactions decides.
type IdempotencyCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client goredis.UniversalClient) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "ledger:posted:",
	}
}

// Get returns the entry ID cached for key, or uuid.Nil if the key is unknown.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (uuid.UUID, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("redis idempotency decode %q: %w", val, err)
	}
	return id, nil
}

// Set records that key was posted as entryID.
func (c *IdempotencyCache) Set(ctx context.Context, key string, entryID uuid.UUID, ttl time.Duration) error {
	err := c.client.Set(ctx, c.prefix+key, entryID.String(), ttl).Err()
	if err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
