package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

// ErrUnprocessable marks an entry that can never be persisted. It is the
// only error that moves an entry to the dead stream; every other error is
// retried until it succeeds.
var ErrUnprocessable = errors.New("order entry cannot be processed")

// OrderProcessor persists one stream entry.
type OrderProcessor interface {
	CreateOrder(ctx context.Context, entry domain.StreamEntry) error
}

type ConsumerConfig struct {
	RecoveryBackoff time.Duration

	// MaxDeliveries is the delivery count past which a pending entry is
	// reported as stuck. It is still retried.
	MaxDeliveries int64
}

// OrderConsumer drains the order stream: new entries in the main loop, and
// this consumer's pending list at startup and after any failure.
type OrderConsumer struct {
	stream    port.OrderStream
	processor OrderProcessor
	cfg       ConsumerConfig
	log       *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	processed    atomic.Uint64
	failed       atomic.Uint64
	recovered    atomic.Uint64
	deadLettered atomic.Uint64
	stuck        atomic.Uint64
}

func NewOrderConsumer(stream port.OrderStream, processor OrderProcessor, cfg ConsumerConfig, log *logrus.Logger) *OrderConsumer {
	if cfg.RecoveryBackoff <= 0 {
		cfg.RecoveryBackoff = 2 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	return &OrderConsumer{
		stream:    stream,
		processor: processor,
		cfg:       cfg,
		log:       log,
	}
}

// Start creates the consumer group and launches the loop, which first
// replays whatever this consumer left unacknowledged.
func (c *OrderConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return errors.New("order consumer already started")
	}
	if err := c.stream.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		c.run(runCtx)
	}(c.done)

	c.log.Info("[OrderConsumer] started")
	return nil
}

// Stop signals the loop and waits for it to exit or for ctx to expire.
func (c *OrderConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		c.log.Info("[OrderConsumer] stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *OrderConsumer) run(ctx context.Context) {
	c.recoverPending(ctx)

	for ctx.Err() == nil {
		entry, err := c.stream.ReadNew(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorf("[OrderConsumer] read stream: %v", err)
			c.recoverPending(ctx)
			continue
		}
		if entry == nil {
			continue
		}

		if err := c.handle(ctx, *entry); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrUnprocessable) {
				c.deadLetter(ctx, *entry, err)
				continue
			}
			c.log.Errorf("[OrderConsumer] handle entry %s: %v", entry.EntryID, err)
			c.recoverPending(ctx)
		}
	}
}

func (c *OrderConsumer) handle(ctx context.Context, entry domain.StreamEntry) error {
	if err := c.processor.CreateOrder(ctx, entry); err != nil {
		c.failed.Add(1)
		return err
	}
	if err := c.stream.Ack(ctx, entry.EntryID); err != nil {
		return fmt.Errorf("ack %s: %w", entry.EntryID, err)
	}
	c.processed.Add(1)
	return nil
}

// recoverPending replays the pending list until it is empty or ctx ends.
// Failed entries stay pending and are retried after the backoff.
func (c *OrderConsumer) recoverPending(ctx context.Context) {
	for ctx.Err() == nil {
		entry, err := c.stream.ReadPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorf("[OrderConsumer] read pending list: %v", err)
			c.sleep(ctx)
			continue
		}
		if entry == nil {
			return
		}
		c.reportStuck(ctx, *entry)

		if err := c.handle(ctx, *entry); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrUnprocessable) {
				c.deadLetter(ctx, *entry, err)
				continue
			}
			c.log.Errorf("[OrderConsumer] replay pending entry %s: %v", entry.EntryID, err)
			c.sleep(ctx)
			continue
		}
		c.recovered.Add(1)
	}
}

// deadLetter moves a permanently failing entry aside. If that fails the entry
// stays pending and comes back on the next replay.
func (c *OrderConsumer) deadLetter(ctx context.Context, entry domain.StreamEntry, cause error) {
	if err := c.stream.DeadLetter(ctx, entry, cause.Error()); err != nil {
		c.log.Errorf("[OrderConsumer] dead-letter %s: %v", entry.EntryID, err)
		c.sleep(ctx)
		return
	}
	c.deadLettered.Add(1)
}

func (c *OrderConsumer) reportStuck(ctx context.Context, entry domain.StreamEntry) {
	deliveries, err := c.stream.Deliveries(ctx, entry.EntryID)
	if err != nil {
		c.log.Warnf("[OrderConsumer] delivery count for %s: %v", entry.EntryID, err)
		return
	}
	if deliveries > c.cfg.MaxDeliveries {
		c.stuck.Add(1)
		c.log.WithFields(logrus.Fields{
			"entryId":    entry.EntryID,
			"orderId":    entry.OrderID,
			"userId":     entry.UserID,
			"deliveries": deliveries,
		}).Error("[OrderConsumer] pending entry keeps failing, still retrying")
	}
}

func (c *OrderConsumer) sleep(ctx context.Context) {
	t := time.NewTimer(c.cfg.RecoveryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
