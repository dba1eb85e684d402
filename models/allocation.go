package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Allocation reserves a quantity of one purchase order line for one
// destination location. The unique index enforces one reservation per
// (line, destination) pair even when a pre-check races.
type Allocation struct {
	ID                  int                `gorm:"primary_key" json:"id"`
	BusinessId          string             `gorm:"size:191;not null;uniqueIndex:idx_allocation_destination,priority:1" json:"business_id"`
	PurchaseOrderItemId int                `gorm:"not null;uniqueIndex:idx_allocation_destination,priority:2" json:"purchase_order_item_id"`
	PurchaseOrderItem   *PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderItemId" json:"purchase_order_item,omitempty"`
	TargetLocationId    int                `gorm:"not null;uniqueIndex:idx_allocation_destination,priority:3" json:"target_location_id"`
	TargetLocation      *Location          `gorm:"foreignKey:TargetLocationId" json:"target_location,omitempty"`
	AllocatedQty        decimal.Decimal    `gorm:"type:decimal(24,6);not null" json:"allocated_qty"`
	ReceivedQty         decimal.Decimal    `gorm:"type:decimal(24,6);not null;default:0" json:"received_qty"`
	Status              AllocationStatus   `gorm:"size:20;not null;default:'Pending'" json:"status"`
	Notes               string             `gorm:"type:text" json:"notes"`
	CreatedBy           int                `gorm:"not null" json:"created_by"`
	CreatedAt           time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAllocation struct {
	PurchaseOrderItemId int             `json:"purchase_order_item_id" binding:"required"`
	TargetLocationId    int             `json:"target_location_id" binding:"required"`
	Quantity            decimal.Decimal `json:"quantity" binding:"required"`
	Notes               string          `json:"notes"`
}

type UpdateAllocationInput struct {
	Quantity    *decimal.Decimal `json:"quantity"`
	ReceivedQty *decimal.Decimal `json:"received_qty"`
	Notes       *string          `json:"notes"`
}

func canTransitionAllocation(from, to AllocationStatus) bool {
	switch from {
	case AllocationStatusPending:
		return to == AllocationStatusShipped || to == AllocationStatusCancelled
	case AllocationStatusShipped:
		return to == AllocationStatusReceived || to == AllocationStatusCancelled
	default:
		return false
	}
}

func validateAllocationQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return utils.NewAppError(utils.ErrorCodeInvalidInput, "quantity must be positive")
	}
	if !qty.Equal(qty.Truncate(0)) {
		return utils.NewAppError(utils.ErrorCodeInvalidInput, "quantity must be a whole number")
	}
	return nil
}

// allocatedTotal sums allocated quantities of all live rows for the line,
// optionally excluding one allocation (its own prior contribution during an
// update). Runs on the given handle so it can share the caller's transaction.
func allocatedTotal(tx *gorm.DB, businessId string, poItemId int, exceptId int) (decimal.Decimal, error) {
	var rows []Allocation
	q := tx.Where("business_id = ? AND purchase_order_item_id = ?", businessId, poItemId)
	if exceptId > 0 {
		q = q.Where("id != ?", exceptId)
	}
	if err := q.Find(&rows).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.AllocatedQty)
	}
	return total, nil
}

func CreateAllocation(ctx context.Context, input *NewAllocation) (*Allocation, error) {
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

	if err := validateAllocationQuantity(input.Quantity); err != nil {
		return nil, err
	}

	item, order, err := GetPurchaseOrderItem(ctx, businessId, input.PurchaseOrderItemId)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "purchase order item not found")
	}
	if order.Status != PurchaseOrderStatusApproved {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState,
			fmt.Sprintf("purchase order %s is not approved", order.OrderNumber))
	}
	if err := utils.ValidateResourceId[Location](ctx, businessId, input.TargetLocationId); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "target location not found")
	}

	lock, err := obtainAllocationLock(ctx, businessId, input.PurchaseOrderItemId)
	if err != nil {
		return nil, err
	}
	defer releaseAllocationLock(lock)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	// re-read under the lock, a pre-lock total may be stale
	existingTotal, err := allocatedTotal(tx, businessId, input.PurchaseOrderItemId, 0)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if existingTotal.Add(input.Quantity).GreaterThan(item.OrderedQty) {
		tx.Rollback()
		return nil, utils.NewAppError(utils.ErrorCodeOverAllocation,
			fmt.Sprintf("allocating %s exceeds ordered quantity %s (already allocated %s)",
				input.Quantity, item.OrderedQty, existingTotal))
	}

	var duplicates int64
	err = tx.Model(&Allocation{}).
		Where("business_id = ? AND purchase_order_item_id = ? AND target_location_id = ?",
			businessId, input.PurchaseOrderItemId, input.TargetLocationId).
		Count(&duplicates).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if duplicates > 0 {
		tx.Rollback()
		return nil, utils.NewAppError(utils.ErrorCodeDuplicateDestination,
			"an allocation for this destination already exists")
	}

	allocation := Allocation{
		BusinessId:          businessId,
		PurchaseOrderItemId: input.PurchaseOrderItemId,
		TargetLocationId:    input.TargetLocationId,
		AllocatedQty:        input.Quantity,
		ReceivedQty:         decimal.Zero,
		Status:              AllocationStatusPending,
		Notes:               input.Notes,
		CreatedBy:           userId,
	}
	if err := tx.Create(&allocation).Error; err != nil {
		tx.Rollback()
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.NewAppError(utils.ErrorCodeDuplicateDestination,
				"an allocation for this destination already exists")
		}
		logger.WithFields(logrus.Fields{
			"module":     "Allocation",
			"func":       "CreateAllocation",
			"businessId": businessId,
			"poItemId":   input.PurchaseOrderItemId,
		}).Error(err)
		return nil, err
	}

	if err := saveAllocationAudit(tx, AuditActionCreated, allocation.ID, nil, &allocation, input.Notes); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func GetAllocationById(ctx context.Context, businessId string, id int) (*Allocation, error) {
	return utils.FetchModel[Allocation](ctx, businessId, id, "PurchaseOrderItem", "PurchaseOrderItem.Product", "TargetLocation")
}

func UpdateAllocation(ctx context.Context, id int, input *UpdateAllocationInput) (*Allocation, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, _, err := actorFromContext(ctx); err != nil {
		return nil, err
	}
	if input.Quantity == nil && input.ReceivedQty == nil && input.Notes == nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "no fields to update")
	}

	current, err := utils.FetchModel[Allocation](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}

	if (input.Quantity != nil || input.Notes != nil) && current.Status != AllocationStatusPending {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState,
			fmt.Sprintf("quantity and notes are immutable while status is %s", current.Status))
	}
	if input.ReceivedQty != nil &&
		current.Status != AllocationStatusPending && current.Status != AllocationStatusShipped {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState,
			fmt.Sprintf("received quantity is immutable while status is %s", current.Status))
	}

	if input.Quantity != nil {
		if err := validateAllocationQuantity(*input.Quantity); err != nil {
			return nil, err
		}
		lock, err := obtainAllocationLock(ctx, businessId, current.PurchaseOrderItemId)
		if err != nil {
			return nil, err
		}
		defer releaseAllocationLock(lock)
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	// re-read inside the transaction so the audit snapshot matches what we mutate
	var before Allocation
	if err := tx.Where("business_id = ?", businessId).First(&before, id).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}

	after := before
	if input.Quantity != nil {
		item, _, err := GetPurchaseOrderItem(ctx, businessId, before.PurchaseOrderItemId)
		if err != nil {
			tx.Rollback()
			return nil, utils.NewAppError(utils.ErrorCodeNotFound, "purchase order item not found")
		}
		otherTotal, err := allocatedTotal(tx, businessId, before.PurchaseOrderItemId, before.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if otherTotal.Add(*input.Quantity).GreaterThan(item.OrderedQty) {
			tx.Rollback()
			return nil, utils.NewAppError(utils.ErrorCodeOverAllocation,
				fmt.Sprintf("allocating %s exceeds ordered quantity %s (other allocations total %s)",
					*input.Quantity, item.OrderedQty, otherTotal))
		}
		after.AllocatedQty = *input.Quantity
	}
	if input.ReceivedQty != nil {
		if input.ReceivedQty.IsNegative() || input.ReceivedQty.GreaterThan(after.AllocatedQty) {
			tx.Rollback()
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput,
				"received quantity must be between zero and the allocated quantity")
		}
		after.ReceivedQty = *input.ReceivedQty
	}
	if input.Notes != nil {
		after.Notes = *input.Notes
	}

	err = tx.Model(&Allocation{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Updates(map[string]interface{}{
			"allocated_qty": after.AllocatedQty,
			"received_qty":  after.ReceivedQty,
			"notes":         after.Notes,
		}).Error
	if err != nil {
		tx.Rollback()
		logger.WithFields(logrus.Fields{
			"module":       "Allocation",
			"func":         "UpdateAllocation",
			"businessId":   businessId,
			"allocationId": id,
		}).Error(err)
		return nil, err
	}

	if err := saveAllocationAudit(tx, AuditActionUpdated, before.ID, &before, &after, after.Notes); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &after, nil
}

func DeleteAllocation(ctx context.Context, id int) error {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	if _, _, err := actorFromContext(ctx); err != nil {
		return err
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	var allocation Allocation
	if err := tx.Where("business_id = ?", businessId).First(&allocation, id).Error; err != nil {
		tx.Rollback()
		return utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}
	if allocation.Status != AllocationStatusPending {
		tx.Rollback()
		return utils.NewAppError(utils.ErrorCodeInvalidState,
			fmt.Sprintf("cannot delete allocation in status %s", allocation.Status))
	}

	if err := tx.Delete(&Allocation{}, allocation.ID).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := saveAllocationAudit(tx, AuditActionDeleted, allocation.ID, &allocation, nil, allocation.Notes); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

type statusSnapshot struct {
	Status AllocationStatus `json:"status"`
}

func UpdateAllocationStatus(ctx context.Context, id int, status AllocationStatus) (*Allocation, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, _, err := actorFromContext(ctx); err != nil {
		return nil, err
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var allocation Allocation
	if err := tx.Where("business_id = ?", businessId).First(&allocation, id).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation not found")
	}
	if !canTransitionAllocation(allocation.Status, status) {
		tx.Rollback()
		return nil, utils.NewAppError(utils.ErrorCodeInvalidTransition,
			fmt.Sprintf("cannot transition allocation from %s to %s", allocation.Status, status))
	}

	before := statusSnapshot{Status: allocation.Status}
	after := statusSnapshot{Status: status}

	err = tx.Model(&Allocation{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Update("status", status).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := saveAllocationAudit(tx, AuditActionStatusChanged, allocation.ID, &before, &after, ""); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	allocation.Status = status
	return &allocation, nil
}
