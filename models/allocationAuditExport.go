package models

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/xuri/excelize/v2"
)

type AuditExportFormat string

const (
	AuditExportJSON AuditExportFormat = "json"
	AuditExportCSV  AuditExportFormat = "csv"
)

var auditExportHeader = []string{
	"audit_id", "allocation_id", "action",
	"performer_id", "performer_email", "performer_role",
	"timestamp", "destination", "product", "order_number",
	"old_values", "new_values", "notes",
}

func auditExportRow(entry *AuditTrailEntry) []string {
	return []string{
		strconv.Itoa(entry.ID),
		strconv.Itoa(entry.AllocationId),
		string(entry.Action),
		strconv.Itoa(entry.PerformedBy),
		entry.PerformerEmail,
		entry.PerformerRole,
		entry.CreatedAt.UTC().Format(time.RFC3339),
		entry.DestinationName,
		entry.ProductName,
		entry.OrderNumber,
		utils.DereferencePtr(entry.OldValues),
		utils.DereferencePtr(entry.NewValues),
		entry.Notes,
	}
}

// renderAuditCSV serializes entries with encoding/csv so embedded commas,
// quotes and newlines in JSON snapshots stay intact.
func renderAuditCSV(entries []*AuditTrailEntry) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(auditExportHeader); err != nil {
		return "", err
	}
	for _, entry := range entries {
		if err := w.Write(auditExportRow(entry)); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ExportAuditData renders the (filtered) audit trail as JSON or CSV. Pass
// allocationId 0 to export the whole tenant trail.
func ExportAuditData(ctx context.Context, format AuditExportFormat, allocationId int, filter *AuditTrailFilter) (string, error) {
	entries, err := GetAuditTrail(ctx, allocationId, filter)
	if err != nil {
		return "", err
	}

	switch format {
	case AuditExportJSON:
		return utils.MarshalToJSON(entries)
	case AuditExportCSV:
		return renderAuditCSV(entries)
	default:
		return "", utils.NewAppError(utils.ErrorCodeInvalidInput,
			fmt.Sprintf("unsupported export format %q", format))
	}
}

// ExportAuditWorkbook renders the trail as an XLSX workbook for back office
// download. The caller owns closing the file.
func ExportAuditWorkbook(ctx context.Context, allocationId int, filter *AuditTrailFilter) (*excelize.File, error) {
	entries, err := GetAuditTrail(ctx, allocationId, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Audit Trail"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, name := range auditExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	for rowIdx, entry := range entries {
		for col, value := range auditExportRow(entry) {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}
