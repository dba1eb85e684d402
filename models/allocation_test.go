package models

import (
	"context"
	"testing"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
)

func TestAllocationStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to AllocationStatus
		want     bool
	}{
		{AllocationStatusPending, AllocationStatusShipped, true},
		{AllocationStatusPending, AllocationStatusCancelled, true},
		{AllocationStatusPending, AllocationStatusReceived, false},
		{AllocationStatusPending, AllocationStatusPending, false},
		{AllocationStatusShipped, AllocationStatusShipped, false},
		{AllocationStatusReceived, AllocationStatusReceived, false},
		{AllocationStatusCancelled, AllocationStatusCancelled, false},
		{AllocationStatusShipped, AllocationStatusReceived, true},
		{AllocationStatusShipped, AllocationStatusCancelled, true},
		{AllocationStatusShipped, AllocationStatusPending, false},
		{AllocationStatusReceived, AllocationStatusPending, false},
		{AllocationStatusReceived, AllocationStatusShipped, false},
		{AllocationStatusReceived, AllocationStatusCancelled, false},
		{AllocationStatusCancelled, AllocationStatusPending, false},
		{AllocationStatusCancelled, AllocationStatusShipped, false},
		{AllocationStatusCancelled, AllocationStatusReceived, false},
	}
	for _, tc := range cases {
		got := canTransitionAllocation(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("canTransitionAllocation(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidateAllocationQuantity(t *testing.T) {
	if err := validateAllocationQuantity(decimal.NewFromInt(10)); err != nil {
		t.Errorf("whole positive quantity rejected: %v", err)
	}
	if err := validateAllocationQuantity(decimal.Zero); err == nil {
		t.Error("zero quantity accepted")
	}
	if err := validateAllocationQuantity(decimal.NewFromInt(-3)); err == nil {
		t.Error("negative quantity accepted")
	}
	if err := validateAllocationQuantity(decimal.NewFromFloat(2.5)); err == nil {
		t.Error("fractional quantity accepted")
	}
}

func TestObtainAllocationLockFailsClosed(t *testing.T) {
	if config.GetRedisLock() != nil {
		t.Skip("redis lock is configured in this environment")
	}
	_, err := obtainAllocationLock(context.Background(), "biz", 1)
	if !utils.IsCode(err, utils.ErrorCodeUpstreamUnavailable) {
		t.Fatalf("obtainAllocationLock without redis = %v, want UPSTREAM_UNAVAILABLE", err)
	}
}

func TestMovementStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to MovementStatus
		want     bool
	}{
		{MovementStatusPending, MovementStatusInTransit, true},
		{MovementStatusPending, MovementStatusCancelled, true},
		{MovementStatusPending, MovementStatusReceived, false},
		{MovementStatusInTransit, MovementStatusReceived, true},
		{MovementStatusInTransit, MovementStatusCancelled, true},
		{MovementStatusReceived, MovementStatusCancelled, false},
		{MovementStatusCancelled, MovementStatusPending, false},
	}
	for _, tc := range cases {
		got := canTransitionMovement(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("canTransitionMovement(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPurchaseOrderStatusTransitions(t *testing.T) {
	if !canTransitionPurchaseOrder(PurchaseOrderStatusDraft, PurchaseOrderStatusApproved) {
		t.Error("draft -> approved should be allowed")
	}
	if !canTransitionPurchaseOrder(PurchaseOrderStatusApproved, PurchaseOrderStatusClosed) {
		t.Error("approved -> closed should be allowed")
	}
	if canTransitionPurchaseOrder(PurchaseOrderStatusClosed, PurchaseOrderStatusApproved) {
		t.Error("closed orders must not reopen")
	}
	if canTransitionPurchaseOrder(PurchaseOrderStatusCancelled, PurchaseOrderStatusDraft) {
		t.Error("cancelled orders must not revive")
	}
}
