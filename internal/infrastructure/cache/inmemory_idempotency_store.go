package cache

import (
	"context"
	"time"

	"github.com/erp/servicebus/internal/domain/shared"
)

// InMemoryIdempotencyStore keeps claims in process memory. Deliveries that
// reach another instance are not deduplicated against it.
type InMemoryIdempotencyStore struct {
	claims *expiringMap[string, struct{}]
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)

// NewInMemoryIdempotencyStore creates a store and starts its sweeper
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{claims: newExpiringMap[string, struct{}](defaultSweepInterval)}
}

func (s *InMemoryIdempotencyStore) Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	return s.claims.putIfAbsent(messageID, struct{}{}, now, now.Add(ttl)), nil
}

func (s *InMemoryIdempotencyStore) Release(ctx context.Context, messageID string) error {
	s.claims.remove(messageID)
	return nil
}

// Claimed reports whether messageID holds a live claim
func (s *InMemoryIdempotencyStore) Claimed(messageID string) bool {
	_, ok := s.claims.get(messageID, time.Now())
	return ok
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.claims.close()
	return nil
}
