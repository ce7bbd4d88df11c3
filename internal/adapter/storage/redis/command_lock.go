package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token, so a run
// that outlived its TTL cannot free a lock taken by the next run.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CommandLock implements ports.CommandLock using Redis SET NX.
type CommandLock struct {
	client goredis.UniversalClient
	prefix string
}

// NewCommandLock creates a new Redis-backed command lock.
func NewCommandLock(client goredis.UniversalClient) *CommandLock {
	return &CommandLock{
		client: client,
		prefix: "lock:command:",
	}
}

// Acquire takes the named lock for ttl. It returns a nil release func when
// another run already holds the lock.
func (l *CommandLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.prefix + name
	token := uuid.NewString()

	result, err := l.client.SetArgs(ctx, key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists: another run holds the lock
			return nil, nil
		}
		return nil, fmt.Errorf("redis lock %s: %w", name, err)
	}
	if result != "OK" {
		return nil, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis unlock %s: %w", name, err)
		}
		return nil
	}
	return release, nil
}
