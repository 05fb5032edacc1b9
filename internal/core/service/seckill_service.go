package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/clock"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

var ErrSoldOut = errors.New("stock sold out")

const orderIDNamespace = "order"

// VoucherReader resolves a seckill voucher, returning domain.ErrVoucherNotFound when absent.
type VoucherReader interface {
	GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error)
}

// SeckillService admits purchase attempts. It only decides and records
// admission in Redis; persistence happens later in OrderCreator.
type SeckillService struct {
	gate     port.AdmissionGate
	ids      port.IDGenerator
	vouchers VoucherReader
	clock    clock.Clock
	log      *logrus.Logger

	accepted  atomic.Uint64
	soldOut   atomic.Uint64
	duplicate atomic.Uint64
	outside   atomic.Uint64
}

func NewSeckillService(gate port.AdmissionGate, ids port.IDGenerator, vouchers VoucherReader, c clock.Clock, log *logrus.Logger) *SeckillService {
	if c == nil {
		c = clock.NewSystem()
	}
	return &SeckillService{gate: gate, ids: ids, vouchers: vouchers, clock: c, log: log}
}

// Seckill admits the user carried by ctx.
func (s *SeckillService) Seckill(ctx context.Context, voucherID int64) (int64, error) {
	user, ok := domain.UserFromContext(ctx)
	if !ok {
		return 0, domain.ErrUnauthenticated
	}
	return s.Submit(ctx, voucherID, user.ID)
}

// Submit returns the new order id on admission. ErrSoldOut and
// domain.ErrDuplicateOrder are business rejections, not failures.
func (s *SeckillService) Submit(ctx context.Context, voucherID, userID int64) (int64, error) {
	if voucherID <= 0 || userID <= 0 {
		return 0, domain.ErrInvalidArgument
	}

	voucher, err := s.vouchers.GetVoucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	if voucher.NotStarted(now) {
		s.outside.Add(1)
		return 0, domain.ErrSeckillNotStarted
	}
	if voucher.Ended(now) {
		s.outside.Add(1)
		return 0, domain.ErrSeckillEnded
	}

	orderID, err := s.ids.NextID(ctx, orderIDNamespace)
	if err != nil {
		return 0, fmt.Errorf("generate order id: %w", err)
	}

	res, err := s.gate.Admit(ctx, voucherID, userID, orderID)
	if err != nil {
		return 0, fmt.Errorf("admission failed: %w", err)
	}

	switch res {
	case domain.AdmissionSoldOut:
		s.soldOut.Add(1)
		return 0, ErrSoldOut
	case domain.AdmissionDuplicate:
		s.duplicate.Add(1)
		return 0, domain.ErrDuplicateOrder
	}

	s.accepted.Add(1)
	s.log.WithFields(logrus.Fields{
		"orderId":   orderID,
		"userId":    userID,
		"voucherId": voucherID,
	}).Debug("[Seckill] order admitted")
	return orderID, nil
}
