package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/viability/internal/core"
)

// Defaults for Lock.
const (
	DefaultKey = "viability:reload-lock"
	DefaultTTL = 15 * time.Minute
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-holder lock stored under one Redis key.
// The TTL must outlast the slowest reload; it only matters if a holder dies.
type Lock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// New creates a lock. Empty key and zero ttl take the defaults.
func New(client redis.Cmdable, key string, ttl time.Duration) *Lock {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock with SET NX PX. It returns core.ErrReloadInProgress
// when another holder has it and core.ErrReloadLockUnavailable when Redis
// cannot be reached.
func (l *Lock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrReloadLockUnavailable, err)
	}
	if !ok {
		return nil, core.ErrReloadInProgress
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release reload lock: %w", err)
		}
		return nil
	}, nil
}
