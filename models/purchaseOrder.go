package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PurchaseOrder struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	BusinessId  string              `gorm:"size:191;not null;uniqueIndex:idx_order_number,priority:1" json:"business_id"`
	OrderNumber string              `gorm:"size:100;not null;uniqueIndex:idx_order_number,priority:2" json:"order_number"`
	Supplier    string              `gorm:"size:100" json:"supplier"`
	Status      PurchaseOrderStatus `gorm:"size:20;not null;default:'Draft'" json:"status"`
	OrderDate   time.Time           `json:"order_date"`
	Notes       string              `gorm:"type:text" json:"notes"`
	Items       []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderId" json:"items"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;size:191;not null" json:"business_id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	ProductId       int             `gorm:"index;not null" json:"product_id"`
	Product         *Product        `gorm:"foreignKey:ProductId" json:"product,omitempty"`
	OrderedQty      decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"ordered_qty"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0" json:"unit_price"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchaseOrderItem struct {
	ProductId  int             `json:"product_id" binding:"required"`
	OrderedQty decimal.Decimal `json:"ordered_qty" binding:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type NewPurchaseOrder struct {
	OrderNumber string                 `json:"order_number" binding:"required"`
	Supplier    string                 `json:"supplier"`
	OrderDate   *time.Time             `json:"order_date"`
	Notes       string                 `json:"notes"`
	Items       []NewPurchaseOrderItem `json:"items" binding:"required"`
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if len(input.Items) == 0 {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "purchase order requires at least one item")
	}
	if err := utils.ValidateUnique[PurchaseOrder](ctx, businessId, "order_number", input.OrderNumber, 0); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "order number is already taken")
	}

	for _, item := range input.Items {
		if !item.OrderedQty.IsPositive() {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput,
				fmt.Sprintf("ordered quantity for product %d must be positive", item.ProductId))
		}
		if err := utils.ValidateResourceId[Product](ctx, businessId, item.ProductId); err != nil {
			return nil, utils.NewAppError(utils.ErrorCodeNotFound,
				fmt.Sprintf("product %d not found", item.ProductId))
		}
	}

	orderDate := time.Now()
	if input.OrderDate != nil {
		orderDate = *input.OrderDate
	}

	order := PurchaseOrder{
		BusinessId:  businessId,
		OrderNumber: input.OrderNumber,
		Supplier:    input.Supplier,
		Status:      PurchaseOrderStatusDraft,
		OrderDate:   orderDate,
		Notes:       input.Notes,
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, PurchaseOrderItem{
			BusinessId: businessId,
			ProductId:  item.ProductId,
			OrderedQty: item.OrderedQty,
			UnitPrice:  item.UnitPrice,
		})
	}

	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "order number is already taken")
		}
		logger.WithFields(logrus.Fields{
			"module":      "PurchaseOrder",
			"func":        "CreatePurchaseOrder",
			"businessId":  businessId,
			"orderNumber": input.OrderNumber,
		}).Error(err)
		return nil, err
	}

	return &order, nil
}

func GetPurchaseOrderById(ctx context.Context, businessId string, id int) (*PurchaseOrder, error) {
	return utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Items", "Items.Product")
}

// GetPurchaseOrderItem is the narrow read the allocation paths use. It loads
// the line together with its product and the order header status.
func GetPurchaseOrderItem(ctx context.Context, businessId string, id int) (*PurchaseOrderItem, *PurchaseOrder, error) {
	db := config.GetDB()

	var item PurchaseOrderItem
	err := db.WithContext(ctx).
		Preload("Product").
		Where("business_id = ? AND id = ?", businessId, id).
		First(&item).Error
	if err != nil {
		return nil, nil, utils.ErrorRecordNotFound
	}

	var order PurchaseOrder
	err = db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, item.PurchaseOrderId).
		First(&order).Error
	if err != nil {
		return nil, nil, utils.ErrorRecordNotFound
	}

	return &item, &order, nil
}

func canTransitionPurchaseOrder(from, to PurchaseOrderStatus) bool {
	switch from {
	case PurchaseOrderStatusDraft:
		return to == PurchaseOrderStatusApproved || to == PurchaseOrderStatusCancelled
	case PurchaseOrderStatusApproved:
		return to == PurchaseOrderStatusClosed || to == PurchaseOrderStatusCancelled
	default:
		return false
	}
}

func UpdatePurchaseOrderStatus(ctx context.Context, id int, status PurchaseOrderStatus) (*PurchaseOrder, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	order, err := utils.FetchModel[PurchaseOrder](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "purchase order not found")
	}

	if !canTransitionPurchaseOrder(order.Status, status) {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidTransition,
			fmt.Sprintf("cannot transition purchase order from %s to %s", order.Status, status))
	}

	err = db.WithContext(ctx).Model(&PurchaseOrder{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Update("status", status).Error
	if err != nil {
		logger.WithFields(logrus.Fields{
			"module":     "PurchaseOrder",
			"func":       "UpdatePurchaseOrderStatus",
			"businessId": businessId,
			"orderId":    id,
		}).Error(err)
		return nil, err
	}

	order.Status = status
	return order, nil
}
