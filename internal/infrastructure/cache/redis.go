package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/config"
)

const pingTimeout = 5 * time.Second

// Key namespaces below config.RedisConfig.KeyPrefix
const (
	IdempotencyKeySpace = "idempotency:"
	UserKeySpace        = "users:"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// NewIdempotencyStore returns a Redis store on client, or a process local
// store when client is nil
func NewIdempotencyStore(client *redis.Client, keyPrefix string, logger *zap.Logger) shared.IdempotencyStore {
	if client == nil {
		logger.Info("Using in-memory idempotency store; redeliveries to other instances are not suppressed")
		return NewInMemoryIdempotencyStore()
	}
	logger.Info("Using Redis idempotency store", zap.String("key_prefix", keyPrefix+IdempotencyKeySpace))
	return NewRedisIdempotencyStore(client, keyPrefix+IdempotencyKeySpace)
}
