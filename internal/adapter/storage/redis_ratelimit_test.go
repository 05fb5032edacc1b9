package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/voucher-seckill/internal/clock"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewRedisRateLimiter(client, clk)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "rl:user:1", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i)
	}

	ok, err := limiter.Allow(ctx, "rl:user:1", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "rl:user:2", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	clk.Advance(1500 * time.Millisecond)
	ok, err = limiter.Allow(ctx, "rl:user:1", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window slid past old hits")
}
