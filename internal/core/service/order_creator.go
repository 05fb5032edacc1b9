package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/clock"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

// ErrOrderInProgress means another worker holds the user's order lock; the
// entry should stay pending and be retried.
var ErrOrderInProgress = errors.New("order for user is being processed")

// OrderCreator turns admitted stream entries into order rows.
type OrderCreator struct {
	repo    port.VoucherOrderRepository
	locker  port.Locker
	clock   clock.Clock
	log     *logrus.Logger
	lockTTL time.Duration
}

const defaultOrderLockTTL = 30 * time.Second

// NewOrderCreator builds a creator whose per-user lease is lockTTL. The
// transaction runs under the same bound, so a lease left by a crashed
// process expires shortly after the work it guarded would have.
func NewOrderCreator(repo port.VoucherOrderRepository, locker port.Locker, c clock.Clock, lockTTL time.Duration, log *logrus.Logger) *OrderCreator {
	if c == nil {
		c = clock.NewSystem()
	}
	if lockTTL <= 0 {
		lockTTL = defaultOrderLockTTL
	}
	return &OrderCreator{repo: repo, locker: locker, clock: c, lockTTL: lockTTL, log: log}
}

// CreateOrder is idempotent: replaying an entry for an existing order is a no-op.
func (o *OrderCreator) CreateOrder(ctx context.Context, entry domain.StreamEntry) error {
	if entry.OrderID <= 0 || entry.UserID <= 0 || entry.VoucherID <= 0 {
		return fmt.Errorf("%w: entry %s has order=%d user=%d voucher=%d",
			ErrUnprocessable, entry.EntryID, entry.OrderID, entry.UserID, entry.VoucherID)
	}

	lockName := fmt.Sprintf("order:%d", entry.UserID)

	token, ok, err := o.locker.TryLock(ctx, lockName, o.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		o.log.Warnf("[OrderCreator] user %d already has an order in progress (entry=%s)", entry.UserID, entry.EntryID)
		return ErrOrderInProgress
	}
	defer func() {
		if err := o.locker.Unlock(context.WithoutCancel(ctx), lockName, token); err != nil {
			o.log.Warnf("[OrderCreator] failed to release %s: %v", lockName, err)
		}
	}()

	txCtx, cancel := context.WithTimeout(ctx, o.lockTTL)
	defer cancel()

	err = o.repo.WithTx(txCtx, func(ctx context.Context) error {
		exists, err := o.repo.HasOrder(ctx, entry.UserID, entry.VoucherID)
		if err != nil {
			return err
		}
		if exists {
			o.log.Infof("[OrderCreator] user %d already owns voucher %d, skipping entry %s", entry.UserID, entry.VoucherID, entry.EntryID)
			return nil
		}

		ok, err := o.repo.DecrementStock(ctx, entry.VoucherID)
		if err != nil {
			return err
		}
		if !ok {
			o.log.Errorf("[OrderCreator] INCONSISTENT: voucher %d has no stock left for admitted order %d", entry.VoucherID, entry.OrderID)
			return nil
		}

		return o.repo.CreateOrder(ctx, entry.Order(o.clock.Now()))
	})
	if errors.Is(err, domain.ErrDuplicateOrder) {
		o.log.Infof("[OrderCreator] order for user %d voucher %d already persisted", entry.UserID, entry.VoucherID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist order %d: %w", entry.OrderID, err)
	}
	return nil
}
