package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type ShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

func (r *ShopRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&domain.Shop{}, &domain.ShopType{})
}

func (r *ShopRepository) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	var shop domain.Shop
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return &shop, nil
}

func (r *ShopRepository) UpdateShop(ctx context.Context, shop domain.Shop) error {
	res := r.db.WithContext(ctx).Model(&domain.Shop{}).Where("id = ?", shop.ID).Updates(map[string]interface{}{
		"name":       shop.Name,
		"type_id":    shop.TypeID,
		"images":     shop.Images,
		"area":       shop.Area,
		"address":    shop.Address,
		"x":          shop.X,
		"y":          shop.Y,
		"avg_price":  shop.AvgPrice,
		"sold":       shop.Sold,
		"comments":   shop.Comments,
		"score":      shop.Score,
		"open_hours": shop.OpenHours,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update shop: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrShopNotFound
	}
	return nil
}

func (r *ShopRepository) CreateShop(ctx context.Context, shop *domain.Shop) error {
	if err := r.db.WithContext(ctx).Create(shop).Error; err != nil {
		return fmt.Errorf("failed to create shop: %w", err)
	}
	return nil
}

func (r *ShopRepository) ListShopTypes(ctx context.Context) ([]domain.ShopType, error) {
	var types []domain.ShopType
	if err := r.db.WithContext(ctx).Order("sort ASC").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("failed to list shop types: %w", err)
	}
	return types, nil
}

func (r *ShopRepository) CreateShopType(ctx context.Context, t *domain.ShopType) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create shop type: %w", err)
	}
	return nil
}
