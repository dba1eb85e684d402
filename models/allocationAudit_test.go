package models

import (
	"testing"
)

func TestClassifyOrphanedLogs(t *testing.T) {
	live := map[int]bool{1: true}
	logs := []AllocationAuditLog{
		{ID: 1, AllocationId: 1, Action: AuditActionCreated},
		// allocation 2 was deleted while pending: residue is expected
		{ID: 2, AllocationId: 2, Action: AuditActionCreated},
		{ID: 3, AllocationId: 2, Action: AuditActionDeleted},
		// allocation 3 vanished without a DELETED entry
		{ID: 4, AllocationId: 3, Action: AuditActionCreated},
		{ID: 5, AllocationId: 3, Action: AuditActionUpdated},
	}

	orphaned := classifyOrphanedLogs(logs, live)
	if len(orphaned) != 2 {
		t.Fatalf("orphaned = %d entries, want 2: %v", len(orphaned), orphaned)
	}
	for _, log := range orphaned {
		if log.AllocationId != 3 {
			t.Errorf("entry %d for allocation %d flagged, want only allocation 3", log.ID, log.AllocationId)
		}
	}
}

func TestClassifyOrphanedLogsAllExplained(t *testing.T) {
	logs := []AllocationAuditLog{
		{ID: 1, AllocationId: 1, Action: AuditActionCreated},
		{ID: 2, AllocationId: 1, Action: AuditActionDeleted},
	}
	if orphaned := classifyOrphanedLogs(logs, map[int]bool{}); len(orphaned) != 0 {
		t.Errorf("orphaned = %v, want none", orphaned)
	}
}

func TestClassifyMissingLogs(t *testing.T) {
	allocations := []Allocation{
		{ID: 1, Status: AllocationStatusPending},
		{ID: 2, Status: AllocationStatusShipped},
		{ID: 3, Status: AllocationStatusReceived},
		{ID: 4, Status: AllocationStatusCancelled},
	}
	logs := []AllocationAuditLog{
		{ID: 1, AllocationId: 1, Action: AuditActionCreated},
		{ID: 2, AllocationId: 2, Action: AuditActionCreated},
		{ID: 3, AllocationId: 2, Action: AuditActionStatusChanged},
		{ID: 4, AllocationId: 3, Action: AuditActionCreated},
		// allocation 3 is Received yet its transitions left no trace
		{ID: 5, AllocationId: 4, Action: AuditActionCreated},
	}
	missing := classifyMissingLogs(logs, allocations)
	if len(missing) != 2 || missing[0] != 3 || missing[1] != 4 {
		t.Errorf("missing = %v, want [3 4]", missing)
	}
}

func TestClassifyMissingLogsCreatedOnlyTrail(t *testing.T) {
	allocations := []Allocation{{ID: 42, Status: AllocationStatusShipped}}
	logs := []AllocationAuditLog{
		{ID: 1, AllocationId: 42, Action: AuditActionCreated},
	}
	missing := classifyMissingLogs(logs, allocations)
	if len(missing) != 1 || missing[0] != 42 {
		t.Errorf("missing = %v, want [42]", missing)
	}
}
