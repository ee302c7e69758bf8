package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRecordCache caches resolved records in Redis as JSON, so instances
// behind the same Redis share hits and invalidations
type RedisRecordCache[K comparable, R any] struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisRecordCache creates a cache on an existing client. keyPrefix
// separates record types sharing one Redis, e.g. "servicebus:user_info:".
func NewRedisRecordCache[K comparable, R any](client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisRecordCache[K, R] {
	return &RedisRecordCache[K, R]{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *RedisRecordCache[K, R]) cacheKey(key K) string {
	return fmt.Sprintf("%s%v", c.keyPrefix, key)
}

// GetMany reads keys with one MGET. Corrupted entries are deleted and
// reported as misses.
func (c *RedisRecordCache[K, R]) GetMany(ctx context.Context, keys []K) (map[K]R, error) {
	out := make(map[K]R, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = c.cacheKey(key)
	}

	values, err := c.client.MGet(ctx, cacheKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records from cache: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec R
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			c.logger.Warn("dropping corrupted cache entry",
				zap.String("key", cacheKeys[i]),
				zap.Error(err),
			)
			_ = c.client.Del(ctx, cacheKeys[i]).Err()
			continue
		}
		out[keys[i]] = rec
	}
	return out, nil
}

// SetMany writes records in one pipeline
func (c *RedisRecordCache[K, R]) SetMany(ctx context.Context, records map[K]R) error {
	if len(records) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for key, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record %v: %w", key, err)
		}
		pipe.Set(ctx, c.cacheKey(key), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write records to cache: %w", err)
	}
	return nil
}

// Invalidate deletes keys
func (c *RedisRecordCache[K, R]) Invalidate(ctx context.Context, keys ...K) error {
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = c.cacheKey(key)
	}
	if err := c.client.Del(ctx, cacheKeys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate records: %w", err)
	}
	return nil
}
