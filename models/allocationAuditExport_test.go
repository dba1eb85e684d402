package models

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

func TestRenderAuditCSV(t *testing.T) {
	old := `{"allocated_qty":"10","notes":"before, with comma"}`
	entries := []*AuditTrailEntry{
		{
			AllocationAuditLog: AllocationAuditLog{
				ID:           7,
				AllocationId: 3,
				Action:       AuditActionUpdated,
				OldValues:    &old,
				PerformedBy:  2,
				Notes:        "line one\nline two",
				CreatedAt:    time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
			},
			PerformerEmail:  "ops@demo.example.com",
			PerformerRole:   "manager",
			DestinationName: "Orchard Outlet",
			ProductName:     "Jasmine Rice 25kg",
			OrderNumber:     "PO-0001",
		},
	}

	out, err := renderAuditCSV(entries)
	if err != nil {
		t.Fatalf("renderAuditCSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("output is not parseable csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want header + 1 row", len(records))
	}
	if len(records[0]) != len(auditExportHeader) {
		t.Fatalf("header has %d columns, want %d", len(records[0]), len(auditExportHeader))
	}

	row := records[1]
	if row[0] != "7" || row[1] != "3" || row[2] != "UPDATED" {
		t.Errorf("row prefix = %v", row[:3])
	}
	if row[6] != "2026-05-01T09:30:00Z" {
		t.Errorf("timestamp = %q, want RFC3339 UTC", row[6])
	}
	if row[10] != old {
		t.Errorf("old values round trip broken: %q", row[10])
	}
	if row[12] != "line one\nline two" {
		t.Errorf("multiline notes round trip broken: %q", row[12])
	}
}

func TestRenderAuditCSVEmptyTrail(t *testing.T) {
	out, err := renderAuditCSV(nil)
	if err != nil {
		t.Fatalf("renderAuditCSV: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want header only", len(records))
	}
}
