package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only when it still holds our token, so a
// holder that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out best-effort distributed locks backed by redis SETNX. A
// nil client degrades to always acquiring, which keeps single-instance
// deployments and tests working without redis.
type Locker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewLocker(client *redis.Client, log *zap.Logger) *Locker {
	return &Locker{client: client, log: log.Named("ratelimit.locker")}
}

// Lock is one held lock. Release is idempotent.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// Acquire tries to take the named lock for ttl. ok=false means another
// instance holds it. Redis failures fail open: the drip tick is guarded by
// row-level claiming anyway, the lock only avoids wasted work.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, bool) {
	if l.client == nil {
		return &Lock{}, true
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		l.log.Warn("lock acquire failed, proceeding unlocked", zap.String("key", key), zap.Error(err))
		return &Lock{}, true
	}
	if !ok {
		return nil, false
	}
	return &Lock{locker: l, key: key, token: token}, true
}

func (lk *Lock) Release(ctx context.Context) {
	if lk == nil || lk.locker == nil || lk.locker.client == nil {
		return
	}
	if err := releaseScript.Run(ctx, lk.locker.client, []string{lk.key}, lk.token).Err(); err != nil && err != redis.Nil {
		lk.locker.log.Warn("lock release failed", zap.String("key", lk.key), zap.Error(err))
	}
}
