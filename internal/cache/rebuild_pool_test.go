package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildPool_RunsTasks(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewRebuildPool(3, 10, logger)
	pool.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, pool.Submit(func() { ran.Add(1) }))
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int32(10), ran.Load())
	assert.Equal(t, uint64(10), pool.completed.Load())
}

func TestRebuildPool_RejectsWhenFull(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewRebuildPool(1, 1, logger)

	// not started: the single queue slot fills up
	assert.True(t, pool.Submit(func() {}))
	assert.False(t, pool.Submit(func() {}))
	assert.Equal(t, uint64(1), pool.rejected.Load())

	pool.Start()
	require.NoError(t, pool.Stop(context.Background()))
	assert.False(t, pool.Submit(func() {}), "stopped pool rejects")
}

func TestRebuildPool_RecoversPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pool := NewRebuildPool(1, 4, logger)
	pool.Start()

	var ran atomic.Bool
	require.True(t, pool.Submit(func() { panic("boom") }))
	require.True(t, pool.Submit(func() { ran.Store(true) }))
	require.NoError(t, pool.Stop(context.Background()))

	assert.True(t, ran.Load(), "worker survives a panicking task")
	assert.Equal(t, uint64(1), pool.panicked.Load())
	assert.NotEmpty(t, hook.AllEntries())
}

func TestRebuildPool_StopTimesOut(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewRebuildPool(1, 1, logger)
	pool.Start()

	release := make(chan struct{})
	defer close(release)
	require.True(t, pool.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)
}
