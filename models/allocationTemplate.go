package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
)

// AllocationTemplate is a reusable named rule set for bulk allocation. The
// rule data stays an opaque JSON document because the tracked shape varies
// by rule type.
type AllocationTemplate struct {
	ID           int              `gorm:"primary_key" json:"id"`
	BusinessId   string           `gorm:"size:191;not null;uniqueIndex:idx_template_name,priority:1" json:"business_id"`
	Name         string           `gorm:"size:100;not null;uniqueIndex:idx_template_name,priority:2" json:"name" binding:"required"`
	Description  string           `gorm:"type:text" json:"description"`
	RuleType     TemplateRuleType `gorm:"size:20;not null" json:"rule_type"`
	TemplateData string           `gorm:"type:json;not null" json:"template_data"`
	IsActive     *bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedBy    int              `gorm:"not null" json:"created_by"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type AllocationTemplateRule struct {
	TargetLocationId int              `json:"target_location_id"`
	RuleType         TemplateRuleType `json:"rule_type"`
	Value            decimal.Decimal  `json:"value"`
}

// AllocationTemplateData is the decoded form of AllocationTemplate.TemplateData.
// Exactly one of the three sections is populated, matching the rule type.
type AllocationTemplateData struct {
	Percentages  map[int]decimal.Decimal  `json:"percentages,omitempty"`
	FixedAmounts map[int]decimal.Decimal  `json:"fixed_amounts,omitempty"`
	Rules        []AllocationTemplateRule `json:"rules,omitempty"`
}

func validateTemplateData(ruleType TemplateRuleType, data *AllocationTemplateData) error {
	switch ruleType {
	case TemplateRuleTypePercentage:
		if len(data.Percentages) == 0 {
			return utils.NewAppError(utils.ErrorCodeInvalidInput, "percentage template requires a percentage map")
		}
		total := decimal.Zero
		for locationId, pct := range data.Percentages {
			if !pct.IsPositive() {
				return utils.NewAppError(utils.ErrorCodeInvalidInput,
					fmt.Sprintf("percentage for location %d must be positive", locationId))
			}
			total = total.Add(pct)
		}
		if total.GreaterThan(decimal.NewFromInt(100)) {
			return utils.NewAppError(utils.ErrorCodeInvalidInput, "percentages must not exceed 100")
		}
	case TemplateRuleTypeFixedAmount:
		if len(data.FixedAmounts) == 0 {
			return utils.NewAppError(utils.ErrorCodeInvalidInput, "fixed amount template requires an amount map")
		}
		for locationId, amount := range data.FixedAmounts {
			if err := validateAllocationQuantity(amount); err != nil {
				return utils.NewAppError(utils.ErrorCodeInvalidInput,
					fmt.Sprintf("fixed amount for location %d is invalid", locationId))
			}
		}
	case TemplateRuleTypeCustomRules:
		if len(data.Rules) == 0 {
			return utils.NewAppError(utils.ErrorCodeInvalidInput, "custom template requires at least one rule")
		}
		for _, rule := range data.Rules {
			if rule.RuleType != TemplateRuleTypePercentage && rule.RuleType != TemplateRuleTypeFixedAmount {
				return utils.NewAppError(utils.ErrorCodeInvalidInput,
					fmt.Sprintf("rule for location %d has unsupported type %s", rule.TargetLocationId, rule.RuleType))
			}
			if !rule.Value.IsPositive() {
				return utils.NewAppError(utils.ErrorCodeInvalidInput,
					fmt.Sprintf("rule value for location %d must be positive", rule.TargetLocationId))
			}
		}
	default:
		return utils.NewAppError(utils.ErrorCodeInvalidInput,
			fmt.Sprintf("unsupported template rule type %s", ruleType))
	}
	return nil
}

type NewAllocationTemplate struct {
	Name        string                  `json:"name" binding:"required"`
	Description string                  `json:"description"`
	RuleType    TemplateRuleType        `json:"rule_type" binding:"required"`
	Data        *AllocationTemplateData `json:"data" binding:"required"`
}

func CreateAllocationTemplate(ctx context.Context, input *NewAllocationTemplate) (*AllocationTemplate, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateUnique[AllocationTemplate](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "template name is already taken")
	}
	if err := validateTemplateData(input.RuleType, input.Data); err != nil {
		return nil, err
	}

	encoded, err := utils.MarshalToJSON(input.Data)
	if err != nil {
		return nil, err
	}

	template := AllocationTemplate{
		BusinessId:   businessId,
		Name:         input.Name,
		Description:  input.Description,
		RuleType:     input.RuleType,
		TemplateData: encoded,
		IsActive:     utils.NewTrue(),
		CreatedBy:    userId,
	}
	if err := db.WithContext(ctx).Create(&template).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "template name is already taken")
		}
		return nil, err
	}
	return &template, nil
}

type UpdateAllocationTemplateInput struct {
	Name        *string                 `json:"name"`
	Description *string                 `json:"description"`
	RuleType    *TemplateRuleType       `json:"rule_type"`
	Data        *AllocationTemplateData `json:"data"`
	IsActive    *bool                   `json:"is_active"`
}

func UpdateAllocationTemplate(ctx context.Context, id int, input *UpdateAllocationTemplateInput) (*AllocationTemplate, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	template, err := utils.FetchModel[AllocationTemplate](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeNotFound, "template not found")
	}

	if input.Name != nil && *input.Name != template.Name {
		if err := utils.ValidateUnique[AllocationTemplate](ctx, businessId, "name", *input.Name, id); err != nil {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "template name is already taken")
		}
		template.Name = *input.Name
	}
	if input.Description != nil {
		template.Description = *input.Description
	}
	if input.RuleType != nil {
		template.RuleType = *input.RuleType
	}
	if input.Data != nil {
		if err := validateTemplateData(template.RuleType, input.Data); err != nil {
			return nil, err
		}
		encoded, err := utils.MarshalToJSON(input.Data)
		if err != nil {
			return nil, err
		}
		template.TemplateData = encoded
	} else if input.RuleType != nil {
		// a rule type change must come with matching data
		data, err := template.DecodeData()
		if err != nil {
			return nil, err
		}
		if err := validateTemplateData(template.RuleType, data); err != nil {
			return nil, err
		}
	}
	if input.IsActive != nil {
		template.IsActive = input.IsActive
	}

	if err := db.WithContext(ctx).Save(template).Error; err != nil {
		return nil, err
	}
	return template, nil
}

func DeleteAllocationTemplate(ctx context.Context, id int) error {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return err
	}
	if err := utils.ValidateResourceId[AllocationTemplate](ctx, businessId, id); err != nil {
		return utils.NewAppError(utils.ErrorCodeNotFound, "template not found")
	}

	return db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Delete(&AllocationTemplate{}, id).Error
}

func GetAllocationTemplateById(ctx context.Context, businessId string, id int) (*AllocationTemplate, error) {
	return utils.FetchModel[AllocationTemplate](ctx, businessId, id)
}

func GetAllocationTemplates(ctx context.Context) ([]*AllocationTemplate, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchAllModels[AllocationTemplate](ctx, businessId)
}

func (t *AllocationTemplate) DecodeData() (*AllocationTemplateData, error) {
	var data AllocationTemplateData
	if err := utils.UnmarshalFromJSON([]byte(t.TemplateData), &data); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState, "template data is corrupted")
	}
	return &data, nil
}
