package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	sharedRedis    *tcredis.RedisContainer
	sharedRedisMu  sync.Mutex
	sharedRedisURL string
)

// TestRedis is a client on the package's shared Redis container plus a key
// prefix unique to the test, so tests never see each other's keys or channels
type TestRedis struct {
	Client *redis.Client
	Prefix string
}

// NewTestRedis starts the shared Redis container on first use and returns a
// fresh client
func NewTestRedis(t *testing.T) *TestRedis {
	t.Helper()
	skipIfShort(t)

	sharedRedisMu.Lock()
	defer sharedRedisMu.Unlock()

	ctx := context.Background()

	if sharedRedis == nil {
		container, err := tcredis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err, "Failed to start Redis container")

		url, err := container.ConnectionString(ctx)
		require.NoError(t, err, "Failed to get Redis connection string")

		sharedRedis = container
		sharedRedisURL = url
	}

	opts, err := redis.ParseURL(sharedRedisURL)
	require.NoError(t, err, "Failed to parse Redis URL")

	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(ctx).Err(), "Failed to ping Redis")
	t.Cleanup(func() { _ = client.Close() })

	return &TestRedis{
		Client: client,
		Prefix: "test:" + uuid.NewString()[:8] + ":",
	}
}
