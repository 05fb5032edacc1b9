package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

const voucherIDNamespace = "voucher"

// VoucherService owns seckill voucher creation and serves voucher reads
// through the pass-through cache.
type VoucherService struct {
	repo  port.VoucherOrderRepository
	gate  port.AdmissionGate
	ids   port.IDGenerator
	cache *cache.Cache[domain.SeckillVoucher]
	log   *logrus.Logger
}

func NewVoucherService(repo port.VoucherOrderRepository, gate port.AdmissionGate, ids port.IDGenerator, c *cache.Cache[domain.SeckillVoucher], log *logrus.Logger) *VoucherService {
	return &VoucherService{repo: repo, gate: gate, ids: ids, cache: c, log: log}
}

func (s *VoucherService) GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	v, err := s.cache.Get(ctx, strconv.FormatInt(voucherID, 10), s.load)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, domain.ErrVoucherNotFound
	}
	return v, err
}

func (s *VoucherService) load(ctx context.Context, id string) (*domain.SeckillVoucher, error) {
	voucherID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, err
	}
	return s.repo.GetVoucher(ctx, voucherID)
}

// AddSeckillVoucher persists the voucher and preloads its admission stock.
// A zero VoucherID is replaced with a generated one.
func (s *VoucherService) AddSeckillVoucher(ctx context.Context, v domain.SeckillVoucher) (int64, error) {
	if v.Stock < 0 || !v.BeginTime.Before(v.EndTime) {
		return 0, domain.ErrInvalidArgument
	}

	if v.VoucherID == 0 {
		id, err := s.ids.NextID(ctx, voucherIDNamespace)
		if err != nil {
			return 0, fmt.Errorf("generate voucher id: %w", err)
		}
		v.VoucherID = id
	}

	if err := s.repo.CreateVoucher(ctx, v); err != nil {
		return 0, err
	}
	if err := s.gate.SetStock(ctx, v.VoucherID, v.Stock); err != nil {
		return 0, fmt.Errorf("preload stock: %w", err)
	}
	// drop a null sentinel cached before the voucher existed
	if err := s.cache.Invalidate(ctx, strconv.FormatInt(v.VoucherID, 10)); err != nil {
		s.log.Warnf("[Voucher] failed to invalidate cache for %d: %v", v.VoucherID, err)
	}

	s.log.Infof("[Voucher] created seckill voucher %d with stock %d", v.VoucherID, v.Stock)
	return v.VoucherID, nil
}
