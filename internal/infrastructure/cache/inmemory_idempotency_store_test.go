package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryIdempotencyStore_Claim(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.True(t, store.Claimed("msg-1"))

	claimed, err = store.Claim(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "redelivery is a duplicate")

	assert.False(t, store.Claimed("msg-2"))
}

func TestInMemoryIdempotencyStore_ExpiredClaimIsReclaimed(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, err := store.Claim(ctx, "msg-1", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, store.Claimed("msg-1"))
	claimed, err := store.Claim(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestInMemoryIdempotencyStore_Release(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, err := store.Claim(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "msg-1"))
	require.NoError(t, store.Release(ctx, "never-claimed"))

	claimed, err := store.Claim(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, _ = store.Claim(ctx, "short-1", 10*time.Millisecond)
	_, _ = store.Claim(ctx, "short-2", 10*time.Millisecond)
	_, _ = store.Claim(ctx, "long", time.Hour)
	assert.Equal(t, 3, store.claims.len())

	assert.Equal(t, 2, store.claims.sweep(time.Now().Add(20*time.Millisecond)))
	assert.Equal(t, 1, store.claims.len())
	assert.True(t, store.Claimed("long"))
}

func TestExpiringMap_SweepLoop(t *testing.T) {
	m := newExpiringMap[string, int](5 * time.Millisecond)
	t.Cleanup(m.close)

	m.put("short", 1, time.Now().Add(time.Millisecond))

	assert.Eventually(t, func() bool {
		return m.len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryIdempotencyStore_ConcurrentClaims(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if claimed, err := store.Claim(context.Background(), "same-msg", time.Hour); err == nil && claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one delivery wins the claim")
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestNewIdempotencyStore_WithoutRedis(t *testing.T) {
	store := NewIdempotencyStore(nil, "sb:", zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	assert.IsType(t, &InMemoryIdempotencyStore{}, store)
}
