package models

import (
	"context"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
)

// Location is a destination a purchase order line can be allocated to, either
// a restaurant outlet or a central store.
type Location struct {
	ID         int          `gorm:"primary_key" json:"id"`
	BusinessId string       `gorm:"index;size:191;not null" json:"business_id"`
	Name       string       `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Type       LocationType `gorm:"size:20;not null;default:'outlet'" json:"type"`
	Address    string       `gorm:"type:text" json:"address"`
	City       string       `gorm:"size:100" json:"city"`
	Phone      string       `gorm:"size:20" json:"phone"`
	IsActive   *bool        `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type LocationType string

const (
	LocationTypeOutlet       LocationType = "outlet"
	LocationTypeCentralStore LocationType = "central_store"
)

type NewLocation struct {
	Name    string       `json:"name" binding:"required"`
	Type    LocationType `json:"type"`
	Address string       `json:"address"`
	City    string       `json:"city"`
	Phone   string       `json:"phone"`
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateUnique[Location](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "location name is already taken")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid phone number")
		}
	}

	locType := input.Type
	if locType == "" {
		locType = LocationTypeOutlet
	}

	location := Location{
		BusinessId: businessId,
		Name:       input.Name,
		Type:       locType,
		Address:    input.Address,
		City:       input.City,
		Phone:      input.Phone,
		IsActive:   utils.NewTrue(),
	}

	if err := db.WithContext(ctx).Create(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func GetLocationById(ctx context.Context, businessId string, id int) (*Location, error) {
	return utils.FetchModel[Location](ctx, businessId, id)
}

func GetLocations(ctx context.Context, businessId string) ([]*Location, error) {
	return utils.FetchAllModels[Location](ctx, businessId)
}
