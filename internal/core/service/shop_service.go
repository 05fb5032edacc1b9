package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

const shopTypeListID = "list"

// ShopService serves shops through the logical-expiration cache and the
// shop type list through the pass-through cache.
type ShopService struct {
	repo       port.ShopRepository
	shops      *cache.Cache[domain.Shop]
	shopTypes  *cache.Cache[[]domain.ShopType]
	logicalTTL time.Duration
	log        *logrus.Logger
}

func NewShopService(repo port.ShopRepository, shops *cache.Cache[domain.Shop], shopTypes *cache.Cache[[]domain.ShopType], logicalTTL time.Duration, log *logrus.Logger) *ShopService {
	return &ShopService{repo: repo, shops: shops, shopTypes: shopTypes, logicalTTL: logicalTTL, log: log}
}

func (s *ShopService) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	shop, err := s.shops.GetLogical(ctx, strconv.FormatInt(id, 10), s.loadShop)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, domain.ErrShopNotFound
	}
	return shop, err
}

func (s *ShopService) loadShop(ctx context.Context, id string) (*domain.Shop, error) {
	shopID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, err
	}
	return s.repo.GetShop(ctx, shopID)
}

// UpdateShop writes the database first and then refreshes the cached entry.
func (s *ShopService) UpdateShop(ctx context.Context, shop domain.Shop) error {
	if shop.ID <= 0 {
		return domain.ErrInvalidArgument
	}
	if err := s.repo.UpdateShop(ctx, shop); err != nil {
		return err
	}

	// a failed refresh is repaired by the next logical expiry
	if err := s.WarmShop(ctx, shop.ID); err != nil {
		s.log.Warnf("[Shop] refresh cache for shop %d failed: %v", shop.ID, err)
	}
	return nil
}

// WarmShop loads the shop and stores it with a fresh logical expiry.
func (s *ShopService) WarmShop(ctx context.Context, id int64) error {
	shop, err := s.repo.GetShop(ctx, id)
	if err != nil {
		return err
	}
	if shop == nil {
		return domain.ErrShopNotFound
	}
	return s.shops.SetLogical(ctx, strconv.FormatInt(id, 10), shop, s.logicalTTL)
}

func (s *ShopService) ListShopTypes(ctx context.Context) ([]domain.ShopType, error) {
	types, err := s.shopTypes.Get(ctx, shopTypeListID, func(ctx context.Context, _ string) (*[]domain.ShopType, error) {
		list, err := s.repo.ListShopTypes(ctx)
		if err != nil {
			return nil, err
		}
		return &list, nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return []domain.ShopType{}, nil
	}
	if err != nil {
		return nil, err
	}
	return *types, nil
}
