package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/config"
)

func limiterConfig(capacity int, refill float64) *config.RateLimitConfig {
	return &config.RateLimitConfig{Capacity: capacity, RefillPerSecond: refill}
}

func TestAcquireWithinCapacity(t *testing.T) {
	l := NewLimiter(limiterConfig(5, 100))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := NewLimiter(limiterConfig(1, 0.001))
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.Error(t, err)
}

func TestPenalizeBlocksAcquire(t *testing.T) {
	l := NewLimiter(limiterConfig(10, 100))
	l.Penalize(80 * time.Millisecond)
	assert.Greater(t, l.PenaltyRemaining(), time.Duration(0))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, time.Duration(0), l.PenaltyRemaining())
}

func TestPenaltyFloorOnlyMovesForward(t *testing.T) {
	l := NewLimiter(limiterConfig(10, 100))
	l.Penalize(100 * time.Millisecond)
	l.Penalize(10 * time.Millisecond)
	assert.Greater(t, l.PenaltyRemaining(), 50*time.Millisecond)
}

func TestZeroPenaltyIsIgnored(t *testing.T) {
	l := NewLimiter(limiterConfig(10, 100))
	l.Penalize(0)
	l.Penalize(-time.Second)
	assert.Equal(t, time.Duration(0), l.PenaltyRemaining())
}
