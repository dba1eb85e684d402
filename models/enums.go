package models

import (
	"errors"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "Draft"
	PurchaseOrderStatusApproved  PurchaseOrderStatus = "Approved"
	PurchaseOrderStatusClosed    PurchaseOrderStatus = "Closed"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "Cancelled"
)

func (s *PurchaseOrderStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Draft":
		*s = PurchaseOrderStatusDraft
	case "Approved":
		*s = PurchaseOrderStatusApproved
	case "Closed":
		*s = PurchaseOrderStatusClosed
	case "Cancelled":
		*s = PurchaseOrderStatusCancelled
	default:
		return errors.New("invalid purchase order status")
	}
	return nil
}

type AllocationStatus string

const (
	AllocationStatusPending   AllocationStatus = "Pending"
	AllocationStatusShipped   AllocationStatus = "Shipped"
	AllocationStatusReceived  AllocationStatus = "Received"
	AllocationStatusCancelled AllocationStatus = "Cancelled"
)

func (s *AllocationStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Pending":
		*s = AllocationStatusPending
	case "Shipped":
		*s = AllocationStatusShipped
	case "Received":
		*s = AllocationStatusReceived
	case "Cancelled":
		*s = AllocationStatusCancelled
	default:
		return errors.New("invalid allocation status")
	}
	return nil
}

type AuditAction string

const (
	AuditActionCreated       AuditAction = "CREATED"
	AuditActionUpdated       AuditAction = "UPDATED"
	AuditActionDeleted       AuditAction = "DELETED"
	AuditActionStatusChanged AuditAction = "STATUS_CHANGED"
)

type BulkAllocationStrategy string

const (
	BulkStrategyEqualDistribution BulkAllocationStrategy = "EqualDistribution"
	BulkStrategyPercentageSplit   BulkAllocationStrategy = "PercentageSplit"
	BulkStrategyTemplateBased     BulkAllocationStrategy = "TemplateBased"
	BulkStrategyCustom            BulkAllocationStrategy = "Custom"
)

func (s *BulkAllocationStrategy) UnmarshalText(b []byte) error {
	switch string(b) {
	case "EqualDistribution":
		*s = BulkStrategyEqualDistribution
	case "PercentageSplit":
		*s = BulkStrategyPercentageSplit
	case "TemplateBased":
		*s = BulkStrategyTemplateBased
	case "Custom":
		*s = BulkStrategyCustom
	default:
		return errors.New("invalid bulk allocation strategy")
	}
	return nil
}

type TemplateRuleType string

const (
	TemplateRuleTypePercentage  TemplateRuleType = "Percentage"
	TemplateRuleTypeFixedAmount TemplateRuleType = "FixedAmount"
	TemplateRuleTypeCustomRules TemplateRuleType = "CustomRules"
)

type MovementStatus string

const (
	MovementStatusPending   MovementStatus = "Pending"
	MovementStatusInTransit MovementStatus = "InTransit"
	MovementStatusReceived  MovementStatus = "Received"
	MovementStatusCancelled MovementStatus = "Cancelled"
)

func (s *MovementStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Pending":
		*s = MovementStatusPending
	case "InTransit":
		*s = MovementStatusInTransit
	case "Received":
		*s = MovementStatusReceived
	case "Cancelled":
		*s = MovementStatusCancelled
	default:
		return errors.New("invalid movement status")
	}
	return nil
}

type MovementPriority string

const (
	MovementPriorityLow    MovementPriority = "Low"
	MovementPriorityNormal MovementPriority = "Normal"
	MovementPriorityHigh   MovementPriority = "High"
	MovementPriorityUrgent MovementPriority = "Urgent"
)
