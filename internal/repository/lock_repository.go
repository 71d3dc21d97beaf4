package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when a key lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock wait timed out")

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// KeyLocker serialises work per key. It uses Redis when a client is
// configured so replicas share the lock, and an in-process mutex otherwise.
type KeyLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *zap.Logger

	local sync.Map
}

// NewKeyLocker constructs a locker. A nil client selects in-process locking.
func NewKeyLocker(client *redis.Client, prefix string, ttl, wait time.Duration, logger *zap.Logger) *KeyLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &KeyLocker{client: client, prefix: prefix, ttl: ttl, wait: wait, poll: 50 * time.Millisecond, logger: logger}
}

// Lock blocks until the key is held or the wait budget elapses. The returned
// function releases the lock.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.client == nil {
		return l.lockLocal(ctx, key)
	}

	redisKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", redisKey, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
					l.logger.Warn("release redis lock failed", zap.String("key", redisKey), zap.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *KeyLocker) lockLocal(ctx context.Context, key string) (func(), error) {
	value, _ := l.local.LoadOrStore(key, make(chan struct{}, 1))
	sem := value.(chan struct{})
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the underlying Redis connection if present.
func (l *KeyLocker) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
