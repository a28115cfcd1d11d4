package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog"
)

const (
	defaultTTL     = 30 * time.Second
	retryBackoff   = 50 * time.Millisecond
	defaultRetries = 100
)

// RedisLocker takes locks in Redis so replicas sharing the database also
// serialize on the same key.
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLocker namespaces every key under prefix. A trailing colon on
// prefix is dropped.
func NewRedisLocker(client redislock.RedisClient, prefix string, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
		prefix: strings.TrimRight(prefix, ":"),
		ttl:    defaultTTL,
		logger: logger.With().Str("component", "redis-lock").Logger(),
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.key(key)
	l, err := r.client.Obtain(ctx, lockKey, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryBackoff), defaultRetries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", lockKey, ErrNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", lockKey, err)
	}

	return func() {
		if err := l.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn().Err(err).Str("key", lockKey).Msg("failed to release lock")
		}
	}, nil
}

func (r *RedisLocker) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}
