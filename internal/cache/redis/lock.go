package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// unlockLua deletes the key only while it still holds the caller's token, so
// a holder whose TTL expired cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const unlockTimeout = 5 * time.Second

// SagaKey is the lock key serialising sagas for one wallet.
func SagaKey(wallet string) string {
	return "polyclaw:saga:" + strings.ToLower(wallet)
}

// LockManager implements domain.LockManager with SET NX PX and a
// token-checked unlock.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
	logger *slog.Logger
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:    c.rdb,
		unlock: redis.NewScript(unlockLua),
		logger: logger.With(slog.String("component", "saga_lock")),
	}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld when another
// process holds it. The returned release func may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: %s: %w", key, domain.ErrLockHeld)
	}
	lm.logger.DebugContext(ctx, "lock acquired", slog.String("key", key), slog.Duration("ttl", ttl))

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if err := lm.unlock.Run(ctx, lm.rdb, []string{key}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed, it will expire on its own",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
