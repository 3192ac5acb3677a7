package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our token, so
// a lock that expired and was re-acquired by another pass is never released
// from here.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisLocker serializes correlation passes per health signal using a Redis
// SET NX lock with a token-checked release. The TTL bounds how long a
// crashed holder can block other passes.
type RedisLocker struct {
	redis         *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedisLocker creates a locker backed by the given Redis client.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		redis:         client,
		ttl:           ttl,
		retryInterval: 50 * time.Millisecond,
	}
}

// Acquire blocks until the health signal's lock is held or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, healthSignalID int) (func(), error) {
	key := fmt.Sprintf("correlation_lock:%d", healthSignalID)
	token := uuid.New().String()

	for {
		acquired, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	release := func() {
		// Release must run even when the operation's context is done.
		l.redis.Eval(context.Background(), releaseScript, []string{key}, token)
	}
	return release, nil
}
