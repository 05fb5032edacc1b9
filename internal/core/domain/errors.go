package domain

import "errors"

var (
	ErrVoucherNotFound   = errors.New("voucher not found")
	ErrShopNotFound      = errors.New("shop not found")
	ErrSeckillNotStarted = errors.New("seckill has not started")
	ErrSeckillEnded      = errors.New("seckill has ended")
	ErrUnauthenticated   = errors.New("user not logged in")
	ErrInvalidArgument   = errors.New("invalid argument")

	// ErrDuplicateOrder means the user already holds an order for the voucher.
	ErrDuplicateOrder = errors.New("duplicate order")
)
