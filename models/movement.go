package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MovementRequest asks the logistics side to move product between two
// locations. The allocation bridge creates these; movement execution
// semantics live with the movement consumers.
type MovementRequest struct {
	ID                    int              `gorm:"primary_key" json:"id"`
	BusinessId            string           `gorm:"index;size:191;not null" json:"business_id"`
	ProductId             int              `gorm:"index;not null" json:"product_id"`
	Product               *Product         `gorm:"foreignKey:ProductId" json:"product,omitempty"`
	SourceLocationId      int              `gorm:"not null" json:"source_location_id"`
	SourceLocation        *Location        `gorm:"foreignKey:SourceLocationId" json:"source_location,omitempty"`
	DestinationLocationId int              `gorm:"not null" json:"destination_location_id"`
	DestinationLocation   *Location        `gorm:"foreignKey:DestinationLocationId" json:"destination_location,omitempty"`
	QuantityRequested     decimal.Decimal  `gorm:"type:decimal(24,6);not null" json:"quantity_requested"`
	Status                MovementStatus   `gorm:"size:20;not null;default:'Pending'" json:"status"`
	Priority              MovementPriority `gorm:"size:20;not null;default:'Normal'" json:"priority"`
	ReasonCode            string           `gorm:"size:50" json:"reason_code"`
	Notes                 string           `gorm:"type:text" json:"notes"`
	CreatedBy             int              `gorm:"not null" json:"created_by"`
	CreatedAt             time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMovementRequest struct {
	ProductId             int              `json:"product_id" binding:"required"`
	SourceLocationId      int              `json:"source_location_id" binding:"required"`
	DestinationLocationId int              `json:"destination_location_id" binding:"required"`
	Quantity              decimal.Decimal  `json:"quantity" binding:"required"`
	Priority              MovementPriority `json:"priority"`
	ReasonCode            string           `json:"reason_code"`
	Notes                 string           `json:"notes"`
}

func createMovementRequestTx(tx *gorm.DB, businessId string, userId int, input *NewMovementRequest) (*MovementRequest, error) {
	if input.SourceLocationId == input.DestinationLocationId {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "source and destination must differ")
	}
	if err := validateAllocationQuantity(input.Quantity); err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = MovementPriorityNormal
	}

	movement := MovementRequest{
		BusinessId:            businessId,
		ProductId:             input.ProductId,
		SourceLocationId:      input.SourceLocationId,
		DestinationLocationId: input.DestinationLocationId,
		QuantityRequested:     input.Quantity,
		Status:                MovementStatusPending,
		Priority:              priority,
		ReasonCode:            input.ReasonCode,
		Notes:                 input.Notes,
		CreatedBy:             userId,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

func CreateMovementRequest(ctx context.Context, input *NewMovementRequest) (*MovementRequest, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateResourceId[Product](ctx, businessId, input.ProductId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "product not found")
	}
	if err := utils.ValidateResourceId[Location](ctx, businessId, input.SourceLocationId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "source location not found")
	}
	if err := utils.ValidateResourceId[Location](ctx, businessId, input.DestinationLocationId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "destination location not found")
	}

	return createMovementRequestTx(db.WithContext(ctx), businessId, userId, input)
}

func GetMovementRequestById(ctx context.Context, businessId string, id int) (*MovementRequest, error) {
	return utils.FetchModel[MovementRequest](ctx, businessId, id, "Product", "SourceLocation", "DestinationLocation")
}

func canTransitionMovement(from, to MovementStatus) bool {
	switch from {
	case MovementStatusPending:
		return to == MovementStatusInTransit || to == MovementStatusCancelled
	case MovementStatusInTransit:
		return to == MovementStatusReceived || to == MovementStatusCancelled
	default:
		return false
	}
}

func UpdateMovementRequestStatus(ctx context.Context, id int, status MovementStatus) (*MovementRequest, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	movement, err := utils.FetchModel[MovementRequest](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "movement request not found")
	}
	if movement.Status == status {
		return movement, nil
	}
	if !canTransitionMovement(movement.Status, status) {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidTransition,
			fmt.Sprintf("cannot transition movement from %s to %s", movement.Status, status))
	}

	err = db.WithContext(ctx).Model(&MovementRequest{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Update("status", status).Error
	if err != nil {
		return nil, err
	}
	movement.Status = status
	return movement, nil
}
