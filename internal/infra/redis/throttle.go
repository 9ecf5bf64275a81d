package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/wali-dispatch/internal/throttle"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 30 * time.Second
	backoffStep    = 50 * time.Millisecond
	backoffMax     = 500 * time.Millisecond
)

// Deletes the lock only while it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ throttle.Registry = (*RedisRegistry)(nil)

// RedisRegistry shares the per-recipient send window across processes.
//
// Each recipient owns two keys: a lock set with NX and a TTL so a crashed
// holder cannot wedge the recipient forever, and the last successful send time
// in unix milliseconds which expires once the window has passed.
type RedisRegistry struct {
	client  *goredis.Client
	window  time.Duration
	lockTTL time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	release *goredis.Script
}

func NewRedisRegistry(client *goredis.Client, window time.Duration) (*RedisRegistry, error) {
	return newRedisRegistry(client, window, defaultLockTTL, time.Now, throttle.Sleep)
}

func newRedisRegistry(
	client *goredis.Client,
	window time.Duration,
	lockTTL time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if window < 0 {
		window = 0
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = throttle.Sleep
	}

	return &RedisRegistry{
		client:  client,
		window:  window,
		lockTTL: lockTTL,
		now:     nowFn,
		sleep:   sleepFn,
		release: releaseScript,
	}, nil
}

func (r *RedisRegistry) Acquire(ctx context.Context, recipient string) (throttle.Lease, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("throttle registry is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := throttle.Key(recipient)
	lease := &redisLease{
		registry: r,
		lockKey:  lockKey(key),
		lastKey:  lastSentKey(key),
		token:    uuid.NewString(),
	}

	backoff := backoffStep
	for {
		ok, err := r.client.SetNX(ctx, lease.lockKey, lease.token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire throttle lock: %w", err)
		}
		if ok {
			break
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return nil, err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}

	lastSent, err := r.lastSent(ctx, lease.lastKey)
	if err != nil {
		_ = lease.Release(context.WithoutCancel(ctx))
		return nil, err
	}

	wait := throttle.RemainingWait(r.now(), lastSent, r.window)
	if wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			_ = lease.Release(context.WithoutCancel(ctx))
			return nil, err
		}
	}
	lease.waited = wait

	return lease, nil
}

func (r *RedisRegistry) lastSent(ctx context.Context, key string) (time.Time, error) {
	ms, err := r.client.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last send time: %w", err)
	}
	return time.UnixMilli(ms), nil
}

func lockKey(recipient string) string {
	return "throttle:lock:" + recipient
}

func lastSentKey(recipient string) string {
	return "throttle:last:" + recipient
}

type redisLease struct {
	registry *RedisRegistry
	lockKey  string
	lastKey  string
	token    string
	waited   time.Duration
	released bool
}

func (l *redisLease) Waited() time.Duration { return l.waited }

func (l *redisLease) MarkSent(ctx context.Context, at time.Time) error {
	if l.registry.window <= 0 {
		return nil
	}

	value := strconv.FormatInt(at.UnixMilli(), 10)
	if err := l.registry.client.Set(ctx, l.lastKey, value, l.registry.window).Err(); err != nil {
		return fmt.Errorf("failed to record send time: %w", err)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true

	if err := l.registry.release.Run(ctx, l.registry.client, []string{l.lockKey}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release throttle lock: %w", err)
	}
	return nil
}
