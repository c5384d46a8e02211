package services

import (
	"context"
	"time"

	"marketplace-settlement/errors"
	"marketplace-settlement/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobLock keeps batch jobs (reminder sweep, auto-heal) to one runner at a time.
// ok is false when another runner holds the lock.
type JobLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type RedisJobLock struct {
	client lockClient
	prefix string
	log    *logger.Logger
}

func NewRedisJobLock(client *redis.Client, log *logger.Logger) *RedisJobLock {
	return &RedisJobLock{client: client, prefix: "settlement:lock:", log: log}
}

func (l *RedisJobLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.E(errors.DependencyUnavailable, "acquiring job lock "+name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			l.log.Warn("Failed to release job lock %s: %v", name, err)
		}
	}
	return release, true, nil
}

// NoopJobLock always succeeds. Used when Redis is not configured.
type NoopJobLock struct{}

func (NoopJobLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
