package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "afterimage:cooldown:"

// RedisTracker shares cooldowns across instances. Each cooldown is a key
// whose TTL is the remaining time. A reservation holds the key with its
// token as the value until it is committed or released.
type RedisTracker struct {
	client *redis.Client
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

// reserveScript returns the remaining TTL when the key is taken, otherwise
// claims it and returns 0.
var reserveScript = redis.NewScript(`
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
	return ttl
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 0
`)

// commitScript replaces the caller's claim, or a lapsed one, with the
// committed cooldown. It returns 0 if another claim owns the key.
var commitScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and v ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[1], "active", "PX", ARGV[2])
else
	redis.call("DEL", KEYS[1])
end
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (t *RedisTracker) Reserve(ctx context.Context, k Key, hold time.Duration) (Reservation, time.Duration, error) {
	r := newReservation(k)
	ms, err := reserveScript.Run(ctx, t.client, []string{keyPrefix + k.String()}, r.Token, holdMillis(hold)).Int64()
	if err != nil {
		return Reservation{}, 0, fmt.Errorf("reserve cooldown %s: %w", k, err)
	}
	if ms > 0 {
		return Reservation{}, time.Duration(ms) * time.Millisecond, nil
	}
	return r, 0, nil
}

func (t *RedisTracker) Commit(ctx context.Context, r Reservation, d time.Duration) error {
	ms := d.Milliseconds()
	if d > 0 && ms == 0 {
		ms = 1
	}
	ok, err := commitScript.Run(ctx, t.client, []string{keyPrefix + r.Key.String()}, r.Token, ms).Int64()
	if err != nil {
		return fmt.Errorf("commit cooldown %s: %w", r.Key, err)
	}
	if ok == 0 {
		return fmt.Errorf("commit cooldown %s: %w", r.Key, ErrClaimLost)
	}
	return nil
}

func (t *RedisTracker) Release(ctx context.Context, r Reservation) error {
	if err := releaseScript.Run(ctx, t.client, []string{keyPrefix + r.Key.String()}, r.Token).Err(); err != nil {
		return fmt.Errorf("release cooldown %s: %w", r.Key, err)
	}
	return nil
}

func (t *RedisTracker) Remaining(ctx context.Context, k Key) (time.Duration, error) {
	ttl, err := t.client.PTTL(ctx, keyPrefix+k.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("read cooldown %s: %w", k, err)
	}
	// -2 (missing) and -1 (no expiry) come back as raw negative durations.
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func holdMillis(d time.Duration) int64 {
	if ms := d.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
