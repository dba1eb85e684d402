package models

import (
	"testing"

	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func issueCodes(result *AllocationValidationResult) map[utils.ErrorCode]int {
	codes := make(map[utils.ErrorCode]int)
	for _, issue := range result.Issues {
		codes[issue.Code]++
	}
	return codes
}

func TestCheckAllocationConstraintsValidBatch(t *testing.T) {
	existing := []Allocation{
		{ID: 1, TargetLocationId: 10, AllocatedQty: dec(30)},
	}
	proposed := []ProposedAllocation{
		{TargetLocationId: 11, Quantity: dec(40)},
		{TargetLocationId: 12, Quantity: dec(30)},
	}

	result := checkAllocationConstraints(dec(100), existing, proposed, 0)
	if !result.Valid {
		t.Fatalf("expected valid, got issues %v", result.Issues)
	}
	if !result.ExistingTotal.Equal(dec(30)) {
		t.Errorf("existing total = %s, want 30", result.ExistingTotal)
	}
	if !result.ProposedTotal.Equal(dec(70)) {
		t.Errorf("proposed total = %s, want 70", result.ProposedTotal)
	}
	if !result.RemainingQty.Equal(dec(70)) {
		t.Errorf("remaining = %s, want 70", result.RemainingQty)
	}
}

func TestCheckAllocationConstraintsOverAllocation(t *testing.T) {
	existing := []Allocation{
		{ID: 1, TargetLocationId: 10, AllocatedQty: dec(60)},
	}
	proposed := []ProposedAllocation{
		{TargetLocationId: 11, Quantity: dec(50)},
	}

	result := checkAllocationConstraints(dec(100), existing, proposed, 0)
	if result.Valid {
		t.Fatal("expected over-allocation issue")
	}
	if issueCodes(result)[utils.ErrorCodeOverAllocation] != 1 {
		t.Errorf("issues = %v, want one OVER_ALLOCATION", result.Issues)
	}
}

func TestCheckAllocationConstraintsDuplicateInBatch(t *testing.T) {
	proposed := []ProposedAllocation{
		{TargetLocationId: 11, Quantity: dec(10)},
		{TargetLocationId: 11, Quantity: dec(10)},
	}

	result := checkAllocationConstraints(dec(100), nil, proposed, 0)
	if result.Valid {
		t.Fatal("expected duplicate destination issue")
	}
	if issueCodes(result)[utils.ErrorCodeDuplicateDestination] != 1 {
		t.Errorf("issues = %v, want one DUPLICATE_DESTINATION", result.Issues)
	}
}

func TestCheckAllocationConstraintsPersistedDuplicate(t *testing.T) {
	existing := []Allocation{
		{ID: 1, TargetLocationId: 11, AllocatedQty: dec(30)},
	}
	proposed := []ProposedAllocation{
		{TargetLocationId: 11, Quantity: dec(10)},
	}

	result := checkAllocationConstraints(dec(100), existing, proposed, 0)
	if result.Valid {
		t.Fatal("expected persisted duplicate issue")
	}
	if issueCodes(result)[utils.ErrorCodeDuplicateDestination] != 1 {
		t.Errorf("issues = %v, want one DUPLICATE_DESTINATION", result.Issues)
	}
}

func TestCheckAllocationConstraintsExcludesOwnRow(t *testing.T) {
	existing := []Allocation{
		{ID: 1, TargetLocationId: 11, AllocatedQty: dec(60)},
		{ID: 2, TargetLocationId: 12, AllocatedQty: dec(30)},
	}
	// updating allocation 1: its own destination and quantity must not count
	proposed := []ProposedAllocation{
		{TargetLocationId: 11, Quantity: dec(70)},
	}

	result := checkAllocationConstraints(dec(100), existing, proposed, 1)
	if !result.Valid {
		t.Fatalf("expected valid, got issues %v", result.Issues)
	}
	if !result.ExistingTotal.Equal(dec(30)) {
		t.Errorf("existing total = %s, want 30", result.ExistingTotal)
	}
}

func TestCheckAllocationConstraintsInvalidQuantity(t *testing.T) {
	proposed := []ProposedAllocation{
		{TargetLocationId: 11, Quantity: decimal.NewFromFloat(1.5)},
		{TargetLocationId: 12, Quantity: dec(0)},
	}

	result := checkAllocationConstraints(dec(100), nil, proposed, 0)
	if result.Valid {
		t.Fatal("expected invalid input issues")
	}
	if issueCodes(result)[utils.ErrorCodeInvalidInput] != 2 {
		t.Errorf("issues = %v, want two INVALID_INPUT", result.Issues)
	}
}

func TestCheckAllocationConstraintsCancelledStillCounts(t *testing.T) {
	// cancelled rows are non-deleted, so their quantity stays reserved
	existing := []Allocation{
		{ID: 1, TargetLocationId: 10, AllocatedQty: dec(80), Status: AllocationStatusCancelled},
	}
	proposed := []ProposedAllocation{
		{TargetLocationId: 11, Quantity: dec(30)},
	}

	result := checkAllocationConstraints(dec(100), existing, proposed, 0)
	if result.Valid {
		t.Fatal("expected over-allocation against cancelled rows")
	}
}
