package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type recordingProcessor struct {
	mu       sync.Mutex
	seen     []int64
	failures map[int64]int
	rejects  map[int64]bool
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{failures: map[int64]int{}, rejects: map[int64]bool{}}
}

func (p *recordingProcessor) CreateOrder(ctx context.Context, e domain.StreamEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejects[e.OrderID] {
		return fmt.Errorf("%w: voucher gone", ErrUnprocessable)
	}
	if p.failures[e.OrderID] > 0 {
		p.failures[e.OrderID]--
		return errors.New("transient")
	}
	p.seen = append(p.seen, e.OrderID)
	return nil
}

func (p *recordingProcessor) processed() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.seen...)
}

func newTestConsumer(stream *mockStream, proc OrderProcessor, maxDeliveries int64) *OrderConsumer {
	logger, _ := test.NewNullLogger()
	return NewOrderConsumer(stream, proc, ConsumerConfig{
		RecoveryBackoff: 5 * time.Millisecond,
		MaxDeliveries:   maxDeliveries,
	}, logger)
}

func stopConsumer(t *testing.T, c *OrderConsumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestConsumer_ProcessesAndAcks(t *testing.T) {
	stream := newMockStream()
	proc := newRecordingProcessor()
	for i := int64(1); i <= 3; i++ {
		stream.push(domain.StreamEntry{OrderID: i, UserID: i, VoucherID: 1})
	}

	c := newTestConsumer(stream, proc, 5)
	require.NoError(t, c.Start(context.Background()))
	defer stopConsumer(t, c)

	require.Eventually(t, func() bool {
		_, acked, _ := stream.snapshot()
		return acked == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{1, 2, 3}, proc.processed())
	pending, _, _ := stream.snapshot()
	assert.Zero(t, pending)
}

func TestConsumer_ReplaysPendingOnStart(t *testing.T) {
	stream := newMockStream()
	proc := newRecordingProcessor()
	stream.deliverWithoutAck(domain.StreamEntry{OrderID: 10, UserID: 1, VoucherID: 1})
	stream.push(domain.StreamEntry{OrderID: 11, UserID: 2, VoucherID: 1})

	c := newTestConsumer(stream, proc, 5)
	require.NoError(t, c.Start(context.Background()))
	defer stopConsumer(t, c)

	require.Eventually(t, func() bool {
		return len(proc.processed()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{10, 11}, proc.processed(), "pending entry replayed before new ones")
	assert.Equal(t, uint64(1), c.recovered.Load())
}

func TestConsumer_TransientFailureRecovered(t *testing.T) {
	stream := newMockStream()
	proc := newRecordingProcessor()
	proc.failures[1] = 2
	stream.push(domain.StreamEntry{OrderID: 1, UserID: 1, VoucherID: 1})

	c := newTestConsumer(stream, proc, 5)
	require.NoError(t, c.Start(context.Background()))
	defer stopConsumer(t, c)

	require.Eventually(t, func() bool {
		_, acked, _ := stream.snapshot()
		return acked == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{1}, proc.processed())
	_, _, dead := stream.snapshot()
	assert.Zero(t, dead)
}

func TestConsumer_RetriesPastMaxDeliveries(t *testing.T) {
	stream := newMockStream()
	proc := newRecordingProcessor()
	proc.failures[1] = 10
	stream.push(domain.StreamEntry{OrderID: 1, UserID: 1, VoucherID: 1})
	stream.push(domain.StreamEntry{OrderID: 2, UserID: 2, VoucherID: 1})

	c := newTestConsumer(stream, proc, 3)
	require.NoError(t, c.Start(context.Background()))
	defer stopConsumer(t, c)

	require.Eventually(t, func() bool {
		_, acked, _ := stream.snapshot()
		return acked == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{1, 2}, proc.processed(), "failing entry retried until it succeeds")
	_, _, dead := stream.snapshot()
	assert.Zero(t, dead)
	assert.Zero(t, c.deadLettered.Load())
	assert.NotZero(t, c.stuck.Load(), "entry past the delivery threshold is reported")
}

func TestConsumer_UnprocessableEntryDeadLettered(t *testing.T) {
	stream := newMockStream()
	proc := newRecordingProcessor()
	proc.rejects[1] = true
	stream.push(domain.StreamEntry{OrderID: 1, UserID: 1, VoucherID: 1})
	stream.push(domain.StreamEntry{OrderID: 2, UserID: 2, VoucherID: 1})

	c := newTestConsumer(stream, proc, 3)
	require.NoError(t, c.Start(context.Background()))
	defer stopConsumer(t, c)

	require.Eventually(t, func() bool {
		_, acked, dead := stream.snapshot()
		return dead == 1 && acked == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{2}, proc.processed(), "stream keeps flowing past the rejected entry")
	assert.Equal(t, uint64(1), c.deadLettered.Load())
}

func TestConsumer_PendingReadErrorBacksOff(t *testing.T) {
	stream := newMockStream()
	stream.pendingErr = 3
	proc := newRecordingProcessor()
	stream.deliverWithoutAck(domain.StreamEntry{OrderID: 5, UserID: 1, VoucherID: 1})

	c := newTestConsumer(stream, proc, 5)
	require.NoError(t, c.Start(context.Background()))
	defer stopConsumer(t, c)

	require.Eventually(t, func() bool {
		return len(proc.processed()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConsumer_Lifecycle(t *testing.T) {
	stream := newMockStream()
	c := newTestConsumer(stream, newRecordingProcessor(), 5)

	assert.NoError(t, c.Stop(context.Background()), "stop before start is a no-op")

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()), "second start rejected")

	var stopped atomic.Bool
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if c.Stop(ctx) == nil {
			stopped.Store(true)
		}
	}()
	require.Eventually(t, stopped.Load, time.Second, 5*time.Millisecond)
}
