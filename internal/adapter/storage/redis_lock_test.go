package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/voucher-seckill/internal/clock"
	"github.com/rl1809/voucher-seckill/internal/port"
)

var (
	_ port.Locker = (*RedisLocker)(nil)
	_ port.Locker = (*MemoryLocker)(nil)
)

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client)

	token, ok, err := locker.TryLock(ctx, "order:1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	got, err := mr.Get("lock:order:1")
	require.NoError(t, err)
	assert.Equal(t, token, got)

	_, ok, err = locker.TryLock(ctx, "order:1", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Unlock(ctx, "order:1", token))
	assert.False(t, mr.Exists("lock:order:1"))
}

func TestRedisLocker_WrongTokenDoesNotRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client)

	token, ok, err := locker.TryLock(ctx, "shop", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Unlock(ctx, "shop", "someone-else"))
	got, err := mr.Get("lock:shop")
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestRedisLocker_ExpiredLeaseCanBeRetaken(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	first := NewRedisLocker(client)
	second := NewRedisLocker(client)

	oldToken, ok, err := first.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	newToken, ok, err := second.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, oldToken, newToken)

	// the stale owner must not release the new lease
	require.NoError(t, first.Unlock(ctx, "k", oldToken))
	got, _ := mr.Get("lock:k")
	assert.Equal(t, newToken, got)
}

func TestRedisLocker_TokensUniqueAcrossInstances(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	a, b := NewRedisLocker(client), NewRedisLocker(client)

	ta, ok, err := a.TryLock(ctx, "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	tb, ok, err := b.TryLock(ctx, "b", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, ta, tb)
}

func TestRedisLocker_Concurrent(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := locker.TryLock(ctx, "hot", time.Minute); err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	locker := NewMemoryLocker(clk)

	token, ok, err := locker.TryLock(ctx, "x", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = locker.TryLock(ctx, "x", time.Second)
	assert.False(t, ok)

	require.NoError(t, locker.Unlock(ctx, "x", "bogus"))
	_, ok, _ = locker.TryLock(ctx, "x", time.Second)
	assert.False(t, ok, "wrong token must not release")

	clk.Advance(2 * time.Second)
	newToken, ok, _ := locker.TryLock(ctx, "x", time.Second)
	require.True(t, ok, "expired lease is free")
	assert.NotEqual(t, token, newToken)

	require.NoError(t, locker.Unlock(ctx, "x", newToken))
	_, ok, _ = locker.TryLock(ctx, "x", time.Second)
	assert.True(t, ok)
}
