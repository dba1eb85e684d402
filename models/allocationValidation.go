package models

import (
	"context"
	"fmt"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
)

type ProposedAllocation struct {
	TargetLocationId int             `json:"target_location_id" binding:"required"`
	Quantity         decimal.Decimal `json:"quantity" binding:"required"`
}

type AllocationConstraintIssue struct {
	TargetLocationId int             `json:"target_location_id,omitempty"`
	Code             utils.ErrorCode `json:"code"`
	Message          string          `json:"message"`
}

type AllocationValidationResult struct {
	Valid         bool                        `json:"valid"`
	OrderedQty    decimal.Decimal             `json:"ordered_qty"`
	ExistingTotal decimal.Decimal             `json:"existing_total"`
	ProposedTotal decimal.Decimal             `json:"proposed_total"`
	RemainingQty  decimal.Decimal             `json:"remaining_qty"`
	Issues        []AllocationConstraintIssue `json:"issues"`
}

// checkAllocationConstraints is the pure core of constraint validation. It
// never touches the database, which keeps the batch rules unit testable and
// reusable inside the bulk engine's dry run path.
func checkAllocationConstraints(orderedQty decimal.Decimal, existing []Allocation, proposed []ProposedAllocation, exceptId int) *AllocationValidationResult {
	result := &AllocationValidationResult{OrderedQty: orderedQty}

	persisted := make(map[int]bool, len(existing))
	for _, row := range existing {
		if row.ID == exceptId {
			continue
		}
		persisted[row.TargetLocationId] = true
		result.ExistingTotal = result.ExistingTotal.Add(row.AllocatedQty)
	}

	seen := make(map[int]bool, len(proposed))
	for _, p := range proposed {
		if err := validateAllocationQuantity(p.Quantity); err != nil {
			result.Issues = append(result.Issues, AllocationConstraintIssue{
				TargetLocationId: p.TargetLocationId,
				Code:             utils.ErrorCodeInvalidInput,
				Message:          err.Error(),
			})
			continue
		}
		if seen[p.TargetLocationId] {
			result.Issues = append(result.Issues, AllocationConstraintIssue{
				TargetLocationId: p.TargetLocationId,
				Code:             utils.ErrorCodeDuplicateDestination,
				Message:          fmt.Sprintf("destination %d appears more than once in the batch", p.TargetLocationId),
			})
			continue
		}
		seen[p.TargetLocationId] = true
		if persisted[p.TargetLocationId] {
			result.Issues = append(result.Issues, AllocationConstraintIssue{
				TargetLocationId: p.TargetLocationId,
				Code:             utils.ErrorCodeDuplicateDestination,
				Message:          fmt.Sprintf("destination %d already has an allocation", p.TargetLocationId),
			})
			continue
		}
		result.ProposedTotal = result.ProposedTotal.Add(p.Quantity)
	}

	combined := result.ExistingTotal.Add(result.ProposedTotal)
	if combined.GreaterThan(orderedQty) {
		result.Issues = append(result.Issues, AllocationConstraintIssue{
			Code: utils.ErrorCodeOverAllocation,
			Message: fmt.Sprintf("combined quantity %s exceeds ordered quantity %s",
				combined, orderedQty),
		})
	}

	result.RemainingQty = orderedQty.Sub(result.ExistingTotal)
	if result.RemainingQty.IsNegative() {
		result.RemainingQty = decimal.Zero
	}
	result.Valid = len(result.Issues) == 0
	return result
}

// ValidateAllocationConstraints runs the batch constraint check against the
// current database state without mutating anything. exceptId excludes one
// persisted allocation from the existing set, for validating an update of
// that very allocation.
func ValidateAllocationConstraints(ctx context.Context, poItemId int, proposed []ProposedAllocation, exceptId int) (*AllocationValidationResult, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	item, _, err := GetPurchaseOrderItem(ctx, businessId, poItemId)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "purchase order item not found")
	}

	var existing []Allocation
	err = db.WithContext(ctx).
		Where("business_id = ? AND purchase_order_item_id = ?", businessId, poItemId).
		Find(&existing).Error
	if err != nil {
		return nil, err
	}

	return checkAllocationConstraints(item.OrderedQty, existing, proposed, exceptId), nil
}
