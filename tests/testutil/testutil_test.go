package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewObservedLogger(t *testing.T) {
	log, logs := NewObservedLogger(zapcore.WarnLevel)

	log.Info("ignored")
	log.Warn("late reply dropped")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "late reply dropped", logs.All()[0].Message)
}

func TestAssertEventually(t *testing.T) {
	var counter atomic.Int32
	go func() {
		time.Sleep(50 * time.Millisecond)
		counter.Store(1)
	}()

	AssertEventually(t, func() bool {
		return counter.Load() == 1
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func TestWaitForCondition(t *testing.T) {
	t.Run("condition met", func(t *testing.T) {
		var counter atomic.Int32
		go func() {
			time.Sleep(20 * time.Millisecond)
			counter.Store(1)
		}()

		result := WaitForCondition(t, func() bool {
			return counter.Load() == 1
		}, 500*time.Millisecond, 10*time.Millisecond)

		assert.True(t, result)
	})

	t.Run("condition not met within timeout", func(t *testing.T) {
		result := WaitForCondition(t, func() bool {
			return false
		}, 50*time.Millisecond, 10*time.Millisecond)

		assert.False(t, result)
	})
}
