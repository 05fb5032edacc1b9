package port

import (
	"context"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type VoucherOrderRepository interface {
	// WithTx runs fn inside one transaction; repository calls made with the ctx passed to fn join it
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// HasOrder reports whether userID already owns an order for voucherID
	HasOrder(ctx context.Context, userID, voucherID int64) (bool, error)

	// DecrementStock takes one unit of stock if any is left and reports whether a row changed
	DecrementStock(ctx context.Context, voucherID int64) (bool, error)

	// CreateOrder inserts the order, returning domain.ErrDuplicateOrder on a unique key violation
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetVoucher returns nil when the voucher does not exist
	GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error)

	// CreateVoucher inserts a seckill voucher
	CreateVoucher(ctx context.Context, v domain.SeckillVoucher) error
}

type ShopRepository interface {
	// GetShop returns nil when the shop does not exist
	GetShop(ctx context.Context, id int64) (*domain.Shop, error)

	// UpdateShop overwrites an existing shop
	UpdateShop(ctx context.Context, shop domain.Shop) error

	// ListShopTypes returns all shop types ordered by sort
	ListShopTypes(ctx context.Context) ([]domain.ShopType, error)
}
