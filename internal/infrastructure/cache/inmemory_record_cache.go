package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// InMemoryRecordCache caches resolved records per process with a fixed TTL
type InMemoryRecordCache[K comparable, R any] struct {
	records *expiringMap[K, R]
	ttl     time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewInMemoryRecordCache creates a cache whose entries live for ttl
func NewInMemoryRecordCache[K comparable, R any](ttl time.Duration) *InMemoryRecordCache[K, R] {
	return &InMemoryRecordCache[K, R]{
		records: newExpiringMap[K, R](defaultSweepInterval),
		ttl:     ttl,
	}
}

// GetMany returns unexpired records for keys
func (c *InMemoryRecordCache[K, R]) GetMany(ctx context.Context, keys []K) (map[K]R, error) {
	now := time.Now()
	out := make(map[K]R, len(keys))
	for _, key := range keys {
		rec, ok := c.records.get(key, now)
		if !ok {
			c.misses.Add(1)
			continue
		}
		c.hits.Add(1)
		out[key] = rec
	}
	return out, nil
}

// SetMany stores records with the cache TTL
func (c *InMemoryRecordCache[K, R]) SetMany(ctx context.Context, records map[K]R) error {
	deadline := time.Now().Add(c.ttl)
	for key, rec := range records {
		c.records.put(key, rec, deadline)
	}
	return nil
}

// Invalidate drops keys
func (c *InMemoryRecordCache[K, R]) Invalidate(ctx context.Context, keys ...K) error {
	c.records.remove(keys...)
	return nil
}

// Stats returns hit and miss counters
func (c *InMemoryRecordCache[K, R]) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.records.len(),
	}
}

// Close stops the sweeper. Safe to call multiple times.
func (c *InMemoryRecordCache[K, R]) Close() error {
	c.records.close()
	return nil
}
