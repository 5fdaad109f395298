// Package lock provides Redis-backed coordination for long-running jobs
// that must not run concurrently across instances, plus storage for the
// last push report.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when the lock is held by another owner.
var ErrLocked = errors.New("lock is held")

// RedisLocker implements mutual exclusion with SET NX plus an owner token,
// so only the acquirer can release.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisLocker{client: client, prefix: "lock:"}, nil
}

// NewRedisLockerWithClient wraps an existing client, mainly for tests.
func NewRedisLockerWithClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lock:"}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

// Acquire takes the named lock for at most ttl and returns a release
// function. Returns ErrLocked when another owner holds it.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	release := func() {
		// only delete if we still own it
		releaseScript.Run(context.Background(), l.client, []string{l.key(name)}, owner)
	}
	return release, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// StoreReport persists the outcome of the last push so operators can
// inspect it after the fact.
func (l *RedisLocker) StoreReport(ctx context.Context, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal push report: %w", err)
	}
	if err := l.client.Set(ctx, "push:last_report", data, 0).Err(); err != nil {
		return fmt.Errorf("store push report: %w", err)
	}
	return l.client.Set(ctx, "push:last_report_at", time.Now().UTC().Format(time.RFC3339), 0).Err()
}

// LastReport returns the stored push report, or nil when none exists.
func (l *RedisLocker) LastReport(ctx context.Context) (json.RawMessage, error) {
	data, err := l.client.Get(ctx, "push:last_report").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load push report: %w", err)
	}
	return json.RawMessage(data), nil
}
