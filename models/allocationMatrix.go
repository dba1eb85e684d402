package models

import (
	"context"
	"sort"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
)

type AllocationMatrixItem struct {
	PurchaseOrderItemId int             `json:"purchase_order_item_id"`
	ProductId           int             `json:"product_id"`
	ProductName         string          `json:"product_name"`
	OrderedQty          decimal.Decimal `json:"ordered_qty"`
	AllocatedQty        decimal.Decimal `json:"allocated_qty"`
	RemainingQty        decimal.Decimal `json:"remaining_qty"`
	Allocations         []*Allocation   `json:"allocations"`
}

type AllocationLocationSummary struct {
	LocationId   int             `json:"location_id"`
	LocationName string          `json:"location_name"`
	ItemCount    int             `json:"item_count"`
	TotalQty     decimal.Decimal `json:"total_qty"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

type AllocationMatrix struct {
	PurchaseOrderId int                         `json:"purchase_order_id"`
	OrderNumber     string                      `json:"order_number"`
	Items           []AllocationMatrixItem      `json:"items"`
	Locations       []AllocationLocationSummary `json:"locations"`
}

// GetAllocationsForPurchaseOrder builds the per-line allocation breakdown and
// a per-destination rollup for one order. Read only.
func GetAllocationsForPurchaseOrder(ctx context.Context, purchaseOrderId int) (*AllocationMatrix, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	order, err := utils.FetchModel[PurchaseOrder](ctx, businessId, purchaseOrderId, "Items", "Items.Product")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "purchase order not found")
	}

	itemIds := make([]int, 0, len(order.Items))
	for _, item := range order.Items {
		itemIds = append(itemIds, item.ID)
	}

	var allocations []*Allocation
	if len(itemIds) > 0 {
		err = db.WithContext(ctx).
			Preload("TargetLocation").
			Where("business_id = ? AND purchase_order_item_id IN ?", businessId, itemIds).
			Order("id ASC").
			Find(&allocations).Error
		if err != nil {
			return nil, err
		}
	}

	byItem := make(map[int][]*Allocation, len(itemIds))
	for _, allocation := range allocations {
		byItem[allocation.PurchaseOrderItemId] = append(byItem[allocation.PurchaseOrderItemId], allocation)
	}

	matrix := AllocationMatrix{
		PurchaseOrderId: order.ID,
		OrderNumber:     order.OrderNumber,
	}
	locationSummaries := make(map[int]*AllocationLocationSummary)

	for _, item := range order.Items {
		row := AllocationMatrixItem{
			PurchaseOrderItemId: item.ID,
			ProductId:           item.ProductId,
			OrderedQty:          item.OrderedQty,
			Allocations:         byItem[item.ID],
		}
		if item.Product != nil {
			row.ProductName = item.Product.Name
		}
		for _, allocation := range row.Allocations {
			row.AllocatedQty = row.AllocatedQty.Add(allocation.AllocatedQty)

			summary, ok := locationSummaries[allocation.TargetLocationId]
			if !ok {
				summary = &AllocationLocationSummary{LocationId: allocation.TargetLocationId}
				if allocation.TargetLocation != nil {
					summary.LocationName = allocation.TargetLocation.Name
				}
				locationSummaries[allocation.TargetLocationId] = summary
			}
			summary.ItemCount++
			summary.TotalQty = summary.TotalQty.Add(allocation.AllocatedQty)
			summary.TotalValue = summary.TotalValue.Add(allocation.AllocatedQty.Mul(item.UnitPrice))
		}
		row.RemainingQty = item.OrderedQty.Sub(row.AllocatedQty)
		matrix.Items = append(matrix.Items, row)
	}

	for _, summary := range locationSummaries {
		matrix.Locations = append(matrix.Locations, *summary)
	}
	sort.Slice(matrix.Locations, func(i, j int) bool {
		return matrix.Locations[i].LocationId < matrix.Locations[j].LocationId
	})

	return &matrix, nil
}
