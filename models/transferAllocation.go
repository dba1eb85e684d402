package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TransferAllocation links one movement request to the allocation it
// fulfils. The unique index makes a pair linkable exactly once.
type TransferAllocation struct {
	ID                int              `gorm:"primary_key" json:"id"`
	BusinessId        string           `gorm:"size:191;not null;uniqueIndex:idx_transfer_allocation_pair,priority:1" json:"business_id"`
	MovementRequestId int              `gorm:"not null;uniqueIndex:idx_transfer_allocation_pair,priority:2" json:"movement_request_id"`
	MovementRequest   *MovementRequest `gorm:"foreignKey:MovementRequestId" json:"movement_request,omitempty"`
	AllocationId      int              `gorm:"index;not null;uniqueIndex:idx_transfer_allocation_pair,priority:3" json:"allocation_id"`
	Allocation        *Allocation      `gorm:"foreignKey:AllocationId" json:"allocation,omitempty"`
	CreatedBy         int              `gorm:"not null" json:"created_by"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func linkTransferToAllocationTx(tx *gorm.DB, businessId string, userId int, movementId, allocationId int) (*TransferAllocation, error) {
	var count int64
	err := tx.Model(&TransferAllocation{}).
		Where("business_id = ? AND movement_request_id = ? AND allocation_id = ?",
			businessId, movementId, allocationId).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewAppError(utils.ErrorCodeDuplicateLink,
			"movement is already linked to this allocation")
	}

	link := TransferAllocation{
		BusinessId:        businessId,
		MovementRequestId: movementId,
		AllocationId:      allocationId,
		CreatedBy:         userId,
	}
	if err := tx.Create(&link).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.NewAppError(utils.ErrorCodeDuplicateLink,
				"movement is already linked to this allocation")
		}
		return nil, err
	}
	return &link, nil
}

type NewTransferFromAllocation struct {
	AllocationId          int              `json:"allocation_id" binding:"required"`
	DestinationLocationId int              `json:"destination_location_id" binding:"required"`
	Priority              MovementPriority `json:"priority"`
	ReasonCode            string           `json:"reason_code"`
	Notes                 string           `json:"notes"`
}

type TransferFromAllocationResult struct {
	Movement *MovementRequest    `json:"movement"`
	Link     *TransferAllocation `json:"link"`
}

// CreateTransferFromAllocation spins a shipped allocation into a movement
// request. The allocation's own destination becomes the movement's source;
// the caller supplies where the goods go next. Movement and link are
// created atomically.
func CreateTransferFromAllocation(ctx context.Context, input *NewTransferFromAllocation) (*TransferFromAllocationResult, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	allocation, err := GetAllocationById(ctx, businessId, input.AllocationId)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}
	if allocation.Status != AllocationStatusShipped {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState,
			fmt.Sprintf("allocation must be %s to create a transfer, got %s",
				AllocationStatusShipped, allocation.Status))
	}
	if err := utils.ValidateResourceId[Location](ctx, businessId, input.DestinationLocationId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "destination location not found")
	}
	if allocation.PurchaseOrderItem == nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState, "allocation has no purchase order item")
	}

	quantity := allocation.AllocatedQty
	if allocation.ReceivedQty.IsPositive() {
		quantity = allocation.ReceivedQty
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	movement, err := createMovementRequestTx(tx, businessId, userId, &NewMovementRequest{
		ProductId:             allocation.PurchaseOrderItem.ProductId,
		SourceLocationId:      allocation.TargetLocationId,
		DestinationLocationId: input.DestinationLocationId,
		Quantity:              quantity,
		Priority:              input.Priority,
		ReasonCode:            input.ReasonCode,
		Notes:                 input.Notes,
	})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	link, err := linkTransferToAllocationTx(tx, businessId, userId, movement.ID, allocation.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		logger.WithFields(logrus.Fields{
			"module":       "TransferAllocation",
			"func":         "CreateTransferFromAllocation",
			"businessId":   businessId,
			"allocationId": allocation.ID,
		}).Error(err)
		return nil, err
	}

	return &TransferFromAllocationResult{Movement: movement, Link: link}, nil
}

// LinkTransferToAllocation attaches an already existing movement to an
// allocation.
func LinkTransferToAllocation(ctx context.Context, movementId, allocationId int) (*TransferAllocation, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateResourceId[MovementRequest](ctx, businessId, movementId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "movement request not found")
	}
	if err := utils.ValidateResourceId[Allocation](ctx, businessId, allocationId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}

	return linkTransferToAllocationTx(db.WithContext(ctx), businessId, userId, movementId, allocationId)
}

// GetTransferAllocationLinks lists the allocations linked to one movement,
// newest first.
func GetTransferAllocationLinks(ctx context.Context, movementId int) ([]*TransferAllocation, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var links []*TransferAllocation
	err = db.WithContext(ctx).
		Preload("Allocation").
		Preload("Allocation.TargetLocation").
		Where("business_id = ? AND movement_request_id = ?", businessId, movementId).
		Order("created_at DESC, id DESC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

// GetAllocationTransferLinks lists the movements linked to one allocation,
// newest first.
func GetAllocationTransferLinks(ctx context.Context, allocationId int) ([]*TransferAllocation, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var links []*TransferAllocation
	err = db.WithContext(ctx).
		Preload("MovementRequest").
		Preload("MovementRequest.SourceLocation").
		Preload("MovementRequest.DestinationLocation").
		Where("business_id = ? AND allocation_id = ?", businessId, allocationId).
		Order("created_at DESC, id DESC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

type SyncResult struct {
	MovementRequestId int              `json:"movement_request_id"`
	MovementStatus    MovementStatus   `json:"movement_status"`
	AllocationStatus  AllocationStatus `json:"allocation_status"`
	Promoted          bool             `json:"promoted"`
}

// SyncAllocationTransferStatus promotes the allocation to Received once a
// linked movement has been received. Idempotent. A cancelled movement does
// not cancel the allocation; that stays a manual business decision.
func SyncAllocationTransferStatus(ctx context.Context, allocationId int) ([]SyncResult, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	allocation, err := utils.FetchModel[Allocation](ctx, businessId, allocationId)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}

	links, err := GetAllocationTransferLinks(ctx, allocationId)
	if err != nil {
		return nil, err
	}

	results := make([]SyncResult, 0, len(links))
	for _, link := range links {
		if link.MovementRequest == nil {
			continue
		}
		result := SyncResult{
			MovementRequestId: link.MovementRequestId,
			MovementStatus:    link.MovementRequest.Status,
			AllocationStatus:  allocation.Status,
		}
		if link.MovementRequest.Status == MovementStatusReceived &&
			allocation.Status != AllocationStatusReceived {
			updated, err := UpdateAllocationStatus(ctx, allocationId, AllocationStatusReceived)
			if err != nil {
				return nil, err
			}
			allocation = updated
			result.AllocationStatus = updated.Status
			result.Promoted = true
		}
		results = append(results, result)
	}
	return results, nil
}

type PartialTransferResult struct {
	OriginalTransfer *MovementRequest      `json:"original_transfer"`
	PartialTransfer  *MovementRequest      `json:"partial_transfer"`
	Links            []*TransferAllocation `json:"links"`
}

// HandlePartialTransferScenario models a shipment that arrived in part. The
// allocation's most recent linked movement is resized to the arrived
// quantity and a new movement carries the remainder, linked to the same
// allocation.
func HandlePartialTransferScenario(ctx context.Context, allocationId int, partialQty decimal.Decimal) (*PartialTransferResult, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateResourceId[Allocation](ctx, businessId, allocationId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}

	links, err := GetAllocationTransferLinks(ctx, allocationId)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 || links[0].MovementRequest == nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState, "allocation has no linked movement")
	}
	original := links[0].MovementRequest

	if err := validateAllocationQuantity(partialQty); err != nil {
		return nil, err
	}
	if !partialQty.LessThan(original.QuantityRequested) {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput,
			fmt.Sprintf("partial quantity %s must be less than the movement quantity %s",
				partialQty, original.QuantityRequested))
	}
	remainder := original.QuantityRequested.Sub(partialQty)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	err = tx.Model(&MovementRequest{}).
		Where("business_id = ? AND id = ?", businessId, original.ID).
		Update("quantity_requested", partialQty).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	partial, err := createMovementRequestTx(tx, businessId, userId, &NewMovementRequest{
		ProductId:             original.ProductId,
		SourceLocationId:      original.SourceLocationId,
		DestinationLocationId: original.DestinationLocationId,
		Quantity:              remainder,
		Priority:              original.Priority,
		ReasonCode:            original.ReasonCode,
		Notes:                 fmt.Sprintf("remainder of movement %d", original.ID),
	})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if _, err := linkTransferToAllocationTx(tx, businessId, userId, partial.ID, allocationId); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	original.QuantityRequested = partialQty
	allLinks, err := GetAllocationTransferLinks(ctx, allocationId)
	if err != nil {
		return nil, err
	}
	return &PartialTransferResult{
		OriginalTransfer: original,
		PartialTransfer:  partial,
		Links:            allLinks,
	}, nil
}

type TraceabilityChain struct {
	Allocation *Allocation        `json:"allocation"`
	Transfers  []*MovementRequest `json:"transfers"`
	Locations  []*Location        `json:"locations"`
	Product    *Product           `json:"product"`
}

// GetTraceabilityChain reconstructs the full provenance of one allocation
// for audit display. Read only.
func GetTraceabilityChain(ctx context.Context, allocationId int) (*TraceabilityChain, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	allocation, err := GetAllocationById(ctx, businessId, allocationId)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}

	links, err := GetAllocationTransferLinks(ctx, allocationId)
	if err != nil {
		return nil, err
	}

	chain := &TraceabilityChain{Allocation: allocation}
	if allocation.PurchaseOrderItem != nil {
		chain.Product = allocation.PurchaseOrderItem.Product
	}

	locationIds := []int{allocation.TargetLocationId}
	for _, link := range links {
		if link.MovementRequest == nil {
			continue
		}
		chain.Transfers = append(chain.Transfers, link.MovementRequest)
		locationIds = append(locationIds, link.MovementRequest.SourceLocationId, link.MovementRequest.DestinationLocationId)
	}
	locationIds = utils.UniqueSlice(locationIds)
	sort.Ints(locationIds)

	if len(locationIds) > 0 {
		err = db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, locationIds).
			Order("id ASC").
			Find(&chain.Locations).Error
		if err != nil {
			return nil, err
		}
	}

	return chain, nil
}
