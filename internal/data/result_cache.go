package data

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisResultCache caches immutable terminal artifacts (final images, failure
// reports) in Redis so repeated result queries avoid store reads.
type RedisResultCache struct {
	client redis.UniversalClient
}

// NewRedisResultCache creates a new RedisResultCache with the given client.
func NewRedisResultCache(client redis.UniversalClient) *RedisResultCache {
	return &RedisResultCache{client: client}
}

// Get retrieves a cached value; a missing key returns nil, nil.
func (c *RedisResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, stderrors.New("key cannot be empty")
	}
	result, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return []byte(result), nil
}

// Set stores a value with the given TTL.
func (c *RedisResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return stderrors.New("key cannot be empty")
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// NoopResultCache is used when Redis is not configured; every lookup misses.
type NoopResultCache struct{}

// Get always misses.
func (NoopResultCache) Get(context.Context, string) ([]byte, error) { return nil, nil }

// Set discards the value.
func (NoopResultCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
