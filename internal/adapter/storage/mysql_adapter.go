package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

//go:embed schema.sql
var schemaSQL string

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the voucher and order tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (m *MySQLAdapter) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return m.db
}

func (m *MySQLAdapter) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) HasOrder(ctx context.Context, userID, voucherID int64) (bool, error) {
	var count int
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tb_voucher_order
		WHERE user_id = ? AND voucher_id = ?`, userID, voucherID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count orders: %w", err)
	}
	return count > 0, nil
}

func (m *MySQLAdapter) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	result, err := m.conn(ctx).ExecContext(ctx, `
		UPDATE tb_seckill_voucher
		SET stock = stock - 1, update_time = ?
		WHERE voucher_id = ? AND stock > 0`,
		time.Now().UTC(), voucherID,
	)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}
	return rows > 0, nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO tb_voucher_order (id, user_id, voucher_id, status, create_time)
		VALUES (?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.VoucherID, order.Status, order.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateError(err) {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	var v domain.SeckillVoucher
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT voucher_id, stock, begin_time, end_time, create_time, update_time
		FROM tb_seckill_voucher WHERE voucher_id = ?`, voucherID,
	).Scan(&v.VoucherID, &v.Stock, &v.BeginTime, &v.EndTime, &v.CreatedAt, &v.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query voucher: %w", err)
	}
	return &v, nil
}

func (m *MySQLAdapter) CreateVoucher(ctx context.Context, v domain.SeckillVoucher) error {
	now := time.Now().UTC()
	_, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO tb_seckill_voucher (voucher_id, stock, begin_time, end_time, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.VoucherID, v.Stock, v.BeginTime.UTC(), v.EndTime.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

// isDuplicateError matches MySQL error 1062 and the SQLite unique constraint message.
func isDuplicateError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
