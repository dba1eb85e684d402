package workflow

import (
	"context"
	"fmt"
	"sort"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/models"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type BulkDestinationRule struct {
	TargetLocationId int              `json:"target_location_id" binding:"required"`
	Percentage       *decimal.Decimal `json:"percentage"`
	Quantity         *decimal.Decimal `json:"quantity"`
	Notes            string           `json:"notes"`
}

type BulkAllocationRequest struct {
	PurchaseOrderId int                           `json:"purchase_order_id" binding:"required"`
	Strategy        models.BulkAllocationStrategy `json:"strategy" binding:"required"`
	TemplateId      int                           `json:"template_id"`
	Destinations    []BulkDestinationRule         `json:"destinations"`
	ValidateOnly    bool                          `json:"validate_only"`
}

type BulkAllocationFailure struct {
	PurchaseOrderItemId int             `json:"purchase_order_item_id"`
	TargetLocationId    int             `json:"target_location_id"`
	Quantity            decimal.Decimal `json:"quantity"`
	Code                utils.ErrorCode `json:"code"`
	Message             string          `json:"message"`
}

type BulkAllocationResult struct {
	PurchaseOrderId    int                           `json:"purchase_order_id"`
	Strategy           models.BulkAllocationStrategy `json:"strategy"`
	ValidateOnly       bool                          `json:"validate_only"`
	CreatedAllocations []*models.Allocation          `json:"created_allocations"`
	FailedAllocations  []BulkAllocationFailure       `json:"failed_allocations"`
	TotalRequested     int                           `json:"total_requested"`
	TotalCreated       int                           `json:"total_created"`
	TotalFailed        int                           `json:"total_failed"`
}

type plannedAllocation struct {
	TargetLocationId int
	Quantity         decimal.Decimal
	Notes            string
}

var oneHundred = decimal.NewFromInt(100)

// planEqualDistribution splits the ordered quantity evenly, floored to
// whole units. The division remainder stays unallocated.
func planEqualDistribution(orderedQty decimal.Decimal, rules []BulkDestinationRule) []plannedAllocation {
	if len(rules) == 0 || !orderedQty.IsPositive() {
		return nil
	}
	share := orderedQty.Div(decimal.NewFromInt(int64(len(rules)))).Floor()

	planned := make([]plannedAllocation, 0, len(rules))
	for _, rule := range rules {
		planned = append(planned, plannedAllocation{
			TargetLocationId: rule.TargetLocationId,
			Quantity:         share,
			Notes:            rule.Notes,
		})
	}
	return planned
}

// planPercentageSplit applies each destination's percentage of the ordered
// quantity, floored to whole units.
func planPercentageSplit(orderedQty decimal.Decimal, rules []BulkDestinationRule) ([]plannedAllocation, error) {
	planned := make([]plannedAllocation, 0, len(rules))
	for _, rule := range rules {
		if rule.Percentage == nil || !rule.Percentage.IsPositive() {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput,
				fmt.Sprintf("destination %d requires a positive percentage", rule.TargetLocationId))
		}
		qty := orderedQty.Mul(*rule.Percentage).Div(oneHundred).Floor()
		planned = append(planned, plannedAllocation{
			TargetLocationId: rule.TargetLocationId,
			Quantity:         qty,
			Notes:            rule.Notes,
		})
	}
	return planned, nil
}

// planCustomRules applies the ordered rule list against a running remainder.
// Percentage rules draw on the ordered quantity; every rule is capped at
// whatever is still unassigned when its turn comes. The ledger enforces the
// actual headroom against persisted rows at create time.
func planCustomRules(orderedQty decimal.Decimal, rules []BulkDestinationRule) ([]plannedAllocation, error) {
	remaining := orderedQty
	planned := make([]plannedAllocation, 0, len(rules))
	for _, rule := range rules {
		var qty decimal.Decimal
		switch {
		case rule.Quantity != nil:
			qty = *rule.Quantity
		case rule.Percentage != nil:
			qty = orderedQty.Mul(*rule.Percentage).Div(oneHundred).Floor()
		default:
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput,
				fmt.Sprintf("destination %d requires a quantity or a percentage", rule.TargetLocationId))
		}
		if qty.GreaterThan(remaining) {
			qty = remaining
		}
		if qty.IsPositive() {
			remaining = remaining.Sub(qty)
		}
		planned = append(planned, plannedAllocation{
			TargetLocationId: rule.TargetLocationId,
			Quantity:         qty,
			Notes:            rule.Notes,
		})
	}
	return planned, nil
}

func planForStrategy(strategy models.BulkAllocationStrategy, orderedQty decimal.Decimal, rules []BulkDestinationRule) ([]plannedAllocation, error) {
	switch strategy {
	case models.BulkStrategyEqualDistribution:
		return planEqualDistribution(orderedQty, rules), nil
	case models.BulkStrategyPercentageSplit:
		return planPercentageSplit(orderedQty, rules)
	case models.BulkStrategyCustom, models.BulkStrategyTemplateBased:
		return planCustomRules(orderedQty, rules)
	default:
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput,
			fmt.Sprintf("unsupported strategy %s", strategy))
	}
}

// BulkAllocate fans one request out over every line item of the order,
// strictly sequentially so later inputs observe the effect of earlier ones
// and the success/failure accounting stays deterministic.
func BulkAllocate(ctx context.Context, request *BulkAllocationRequest) (*BulkAllocationResult, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "business id is required")
	}

	rules := request.Destinations
	if request.Strategy == models.BulkStrategyTemplateBased {
		template, err := models.GetAllocationTemplateById(ctx, businessId, request.TemplateId)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrorCodeNotFound, "allocation template not found")
		}
		rules, err = templateRules(template)
		if err != nil {
			return nil, err
		}
	}
	if len(rules) == 0 {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "at least one destination is required")
	}

	order, err := models.GetPurchaseOrderById(ctx, businessId, request.PurchaseOrderId)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "purchase order not found")
	}
	if order.Status != models.PurchaseOrderStatusApproved {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState,
			fmt.Sprintf("purchase order %s is not approved", order.OrderNumber))
	}

	result := &BulkAllocationResult{
		PurchaseOrderId: order.ID,
		Strategy:        request.Strategy,
		ValidateOnly:    request.ValidateOnly,
	}

	for _, item := range order.Items {
		planned, err := planForStrategy(request.Strategy, item.OrderedQty, rules)
		if err != nil {
			return nil, err
		}
		result.TotalRequested += len(planned)

		proposed := make([]models.ProposedAllocation, 0, len(planned))
		for _, p := range planned {
			proposed = append(proposed, models.ProposedAllocation{
				TargetLocationId: p.TargetLocationId,
				Quantity:         p.Quantity,
			})
		}
		check, err := models.ValidateAllocationConstraints(ctx, item.ID, proposed, 0)
		if err != nil {
			return nil, err
		}
		// a failing item produces zero rows: its whole planned batch is skipped
		if len(check.Issues) > 0 || request.ValidateOnly {
			for _, issue := range check.Issues {
				result.FailedAllocations = append(result.FailedAllocations, BulkAllocationFailure{
					PurchaseOrderItemId: item.ID,
					TargetLocationId:    issue.TargetLocationId,
					Code:                issue.Code,
					Message:             issue.Message,
				})
			}
			continue
		}

		for _, p := range planned {
			allocation, err := models.CreateAllocation(ctx, &models.NewAllocation{
				PurchaseOrderItemId: item.ID,
				TargetLocationId:    p.TargetLocationId,
				Quantity:            p.Quantity,
				Notes:               p.Notes,
			})
			if err != nil {
				// a concurrent writer won the headroom between validation and create
				result.FailedAllocations = append(result.FailedAllocations, BulkAllocationFailure{
					PurchaseOrderItemId: item.ID,
					TargetLocationId:    p.TargetLocationId,
					Quantity:            p.Quantity,
					Code:                utils.CodeOf(err),
					Message:             err.Error(),
				})
				continue
			}
			result.CreatedAllocations = append(result.CreatedAllocations, allocation)
		}
	}

	result.TotalCreated = len(result.CreatedAllocations)
	result.TotalFailed = len(result.FailedAllocations)

	logger.WithFields(logrus.Fields{
		"module":       "BulkAllocation",
		"func":         "BulkAllocate",
		"businessId":   businessId,
		"orderId":      order.ID,
		"strategy":     request.Strategy,
		"validateOnly": request.ValidateOnly,
		"created":      result.TotalCreated,
		"failed":       result.TotalFailed,
	}).Info("bulk allocation processed")

	return result, nil
}

// templateRules flattens decoded template data into the ordered rule list
// the planner consumes.
func templateRules(template *models.AllocationTemplate) ([]BulkDestinationRule, error) {
	data, err := template.DecodeData()
	if err != nil {
		return nil, err
	}

	var rules []BulkDestinationRule
	switch template.RuleType {
	case models.TemplateRuleTypePercentage:
		for _, locationId := range sortedKeys(data.Percentages) {
			p := data.Percentages[locationId]
			rules = append(rules, BulkDestinationRule{TargetLocationId: locationId, Percentage: &p})
		}
	case models.TemplateRuleTypeFixedAmount:
		for _, locationId := range sortedKeys(data.FixedAmounts) {
			q := data.FixedAmounts[locationId]
			rules = append(rules, BulkDestinationRule{TargetLocationId: locationId, Quantity: &q})
		}
	case models.TemplateRuleTypeCustomRules:
		for _, rule := range data.Rules {
			r := BulkDestinationRule{TargetLocationId: rule.TargetLocationId}
			value := rule.Value
			if rule.RuleType == models.TemplateRuleTypePercentage {
				r.Percentage = &value
			} else {
				r.Quantity = &value
			}
			rules = append(rules, r)
		}
	default:
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState,
			fmt.Sprintf("template %s has unsupported rule type %s", template.Name, template.RuleType))
	}
	return rules, nil
}

// sortedKeys keeps template rule ordering stable across runs.
func sortedKeys(m map[int]decimal.Decimal) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// ApplyAllocationTemplate resolves a stored template against the order's
// current line items and delegates to BulkAllocate.
func ApplyAllocationTemplate(ctx context.Context, purchaseOrderId, templateId int, validateOnly bool) (*BulkAllocationResult, error) {
	return BulkAllocate(ctx, &BulkAllocationRequest{
		PurchaseOrderId: purchaseOrderId,
		Strategy:        models.BulkStrategyTemplateBased,
		TemplateId:      templateId,
		ValidateOnly:    validateOnly,
	})
}
