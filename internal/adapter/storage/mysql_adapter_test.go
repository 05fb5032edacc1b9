package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

var _ port.VoucherOrderRepository = (*MySQLAdapter)(nil)

func newTestSQL(t *testing.T) (*sql.DB, *MySQLAdapter) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// one connection keeps the in-memory database shared
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	require.NoError(t, adapter.Migrate(context.Background()))
	return db, adapter
}

func seedVoucher(t *testing.T, adapter *MySQLAdapter, id int64, stock int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, adapter.CreateVoucher(context.Background(), domain.SeckillVoucher{
		VoucherID: id,
		Stock:     stock,
		BeginTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}))
}

func TestGetVoucher(t *testing.T) {
	_, adapter := newTestSQL(t)
	ctx := context.Background()
	seedVoucher(t, adapter, 1, 100)

	v, err := adapter.GetVoucher(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 100, v.Stock)
	assert.True(t, v.BeginTime.Before(v.EndTime))

	missing, err := adapter.GetVoucher(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDecrementStock_StopsAtZero(t *testing.T) {
	_, adapter := newTestSQL(t)
	ctx := context.Background()
	seedVoucher(t, adapter, 1, 2)

	for i := 0; i < 2; i++ {
		ok, err := adapter.DecrementStock(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := adapter.DecrementStock(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := adapter.GetVoucher(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Stock)
}

func TestDecrementStock_Concurrent(t *testing.T) {
	_, adapter := newTestSQL(t)
	ctx := context.Background()
	seedVoucher(t, adapter, 1, 20)

	var success atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.DecrementStock(ctx, 1)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), success.Load())
	v, _ := adapter.GetVoucher(ctx, 1)
	assert.Equal(t, 0, v.Stock)
}

func TestCreateOrder_Duplicate(t *testing.T) {
	_, adapter := newTestSQL(t)
	ctx := context.Background()

	order := domain.Order{ID: 1, UserID: 10, VoucherID: 20, Status: domain.OrderStatusUnpaid, CreatedAt: time.Now()}
	require.NoError(t, adapter.CreateOrder(ctx, order))

	has, err := adapter.HasOrder(ctx, 10, 20)
	require.NoError(t, err)
	assert.True(t, has)

	order.ID = 2
	err = adapter.CreateOrder(ctx, order)
	assert.True(t, errors.Is(err, domain.ErrDuplicateOrder), "got %v", err)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	_, adapter := newTestSQL(t)
	ctx := context.Background()
	seedVoucher(t, adapter, 1, 5)

	boom := errors.New("boom")
	err := adapter.WithTx(ctx, func(ctx context.Context) error {
		if _, err := adapter.DecrementStock(ctx, 1); err != nil {
			return err
		}
		if err := adapter.CreateOrder(ctx, domain.Order{ID: 1, UserID: 1, VoucherID: 1, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	has, err := adapter.HasOrder(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, has)

	v, _ := adapter.GetVoucher(ctx, 1)
	assert.Equal(t, 5, v.Stock)
}

func TestWithTx_CommitAndNesting(t *testing.T) {
	_, adapter := newTestSQL(t)
	ctx := context.Background()
	seedVoucher(t, adapter, 1, 5)

	err := adapter.WithTx(ctx, func(ctx context.Context) error {
		return adapter.WithTx(ctx, func(ctx context.Context) error {
			if _, err := adapter.DecrementStock(ctx, 1); err != nil {
				return err
			}
			return adapter.CreateOrder(ctx, domain.Order{ID: 1, UserID: 1, VoucherID: 1, CreatedAt: time.Now()})
		})
	})
	require.NoError(t, err)

	has, _ := adapter.HasOrder(ctx, 1, 1)
	assert.True(t, has)
	v, _ := adapter.GetVoucher(ctx, 1)
	assert.Equal(t, 4, v.Stock)
}
