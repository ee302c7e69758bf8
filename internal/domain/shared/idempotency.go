package shared

import (
	"context"
	"time"
)

// DefaultIdempotencyTTL is how long a claimed message ID is remembered. It
// only has to outlive the broker's redelivery window.
const DefaultIdempotencyTTL = time.Hour

// IdempotencyStore claims message IDs so that each delivered message is
// handled once across every consumer sharing the store
type IdempotencyStore interface {
	// Claim records messageID for ttl. It reports false when the ID is
	// already claimed.
	Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error)

	// Release drops a claim so the next delivery of messageID is handled
	Release(ctx context.Context, messageID string) error

	Close() error
}
