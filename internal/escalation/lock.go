package escalation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker arbitrates which worker runs a scan tick. The escalation scan is
// idempotent per alert, so the lock is an efficiency measure, not a
// correctness one.
type Locker interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// NoopLocker always grants the tick. Used for single-worker deployments and
// tests.
type NoopLocker struct{}

// TryAcquire always succeeds.
func (NoopLocker) TryAcquire(context.Context, time.Duration) (bool, error) { return true, nil }

// Release is a no-op.
func (NoopLocker) Release(context.Context) error { return nil }

const lockKey = "alertcore:escalation:tick"

// RedisLocker serialises ticks across stateless workers with SET NX and a
// TTL so a crashed holder cannot wedge the scan.
type RedisLocker struct {
	client *redis.Client
	token  string
}

// NewRedisLocker creates a RedisLocker. token identifies this worker so only
// the holder releases the lock.
func NewRedisLocker(client *redis.Client, token string) *RedisLocker {
	return &RedisLocker{client: client, token: token}
}

// TryAcquire attempts SET NX with the given TTL.
func (l *RedisLocker) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, lockKey, l.token, ttl).Result()
}

// Release deletes the lock only when this worker still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees the lock if held by this worker.
func (l *RedisLocker) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{lockKey}, l.token).Err()
}
