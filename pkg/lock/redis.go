package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/newtron-network/extport/pkg/util"
)

// KeyPrefix prefixes device lock keys.
const KeyPrefix = "EXTPORT_LOCK|"

// acquireScript takes the lock if nobody holds it.
// Returns 1 on success, 0 if already locked by another holder.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseScript deletes the lock only for its holder.
// Returns 1 on success, 0 if holder mismatch, -1 if key doesn't exist.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
local current = redis.call("HGET", key, "holder")
if current ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// RedisLocker is a lock shared by every agent using the same Redis. Locks
// expire after TTL so a crashed holder cannot wedge a device.
type RedisLocker struct {
	client *redis.Client
	TTL    time.Duration
	// Retry is the polling interval while waiting for a held lock. Zero
	// fails immediately with util.ErrDeviceLocked.
	Retry time.Duration
	host  string
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client *redis.Client, ttl, retry time.Duration) *RedisLocker {
	host, _ := os.Hostname()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, TTL: ttl, Retry: retry, host: host}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, device string) (*Lease, error) {
	key := KeyPrefix + device
	holder := fmt.Sprintf("%s/%s", l.host, uuid.NewString())
	ttl := int(l.TTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	for {
		now := time.Now().UTC().Format(time.RFC3339)
		result, err := acquireScript.Run(ctx, l.client, []string{key}, holder, now, fmt.Sprintf("%d", ttl)).Int()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock for %s: %w", device, err)
		}
		if result == 1 {
			util.WithDevice(device).Debugf("Lock acquired by %s", holder)
			return &Lease{
				Device:  device,
				Holder:  holder,
				release: func() error { return l.release(device, holder) },
			}, nil
		}

		if l.Retry <= 0 {
			return nil, l.lockedError(ctx, device, key)
		}
		select {
		case <-time.After(l.Retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (%v)", l.lockedError(context.Background(), device, key), ctx.Err())
		}
	}
}

func (l *RedisLocker) lockedError(ctx context.Context, device, key string) error {
	current, _ := l.client.HGet(ctx, key, "holder").Result()
	if current == "" {
		return fmt.Errorf("%s: %w", device, util.ErrDeviceLocked)
	}
	return fmt.Errorf("%s: %w by %s", device, util.ErrDeviceLocked, current)
}

func (l *RedisLocker) release(device, holder string) error {
	key := KeyPrefix + device
	result, err := releaseScript.Run(context.Background(), l.client, []string{key}, holder).Int()
	if err != nil {
		return fmt.Errorf("releasing lock for %s: %w", device, err)
	}
	switch result {
	case 0:
		return fmt.Errorf("lock holder mismatch for %s", device)
	case -1:
		return nil // expired, treat as released
	}
	return nil
}
