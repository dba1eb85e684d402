package models

import (
	"context"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;size:191;not null" json:"business_id"`
	Name       string          `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Sku        string          `gorm:"index;size:100" json:"sku"`
	Unit       string          `gorm:"size:20;not null;default:'pcs'" json:"unit"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"unit_price"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name      string          `json:"name" binding:"required"`
	Sku       string          `json:"sku"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if input.Sku != "" {
		if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, 0); err != nil {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "sku is already taken")
		}
	}
	if input.UnitPrice.IsNegative() {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "unit price cannot be negative")
	}

	unit := input.Unit
	if unit == "" {
		unit = "pcs"
	}

	product := Product{
		BusinessId: businessId,
		Name:       input.Name,
		Sku:        input.Sku,
		Unit:       unit,
		UnitPrice:  input.UnitPrice,
		IsActive:   utils.NewTrue(),
	}

	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProductById(ctx context.Context, businessId string, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, businessId, id)
}
