package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"gorm.io/gorm"
)

// AllocationAuditLog is an append-only record of one allocation mutation.
// AllocationId is deliberately not a foreign key: entries must survive the
// hard delete of a pending allocation so the trail stays complete.
type AllocationAuditLog struct {
	ID           int         `gorm:"primary_key" json:"id"`
	BusinessId   string      `gorm:"index;size:191;not null" json:"business_id"`
	AllocationId int         `gorm:"index;not null" json:"allocation_id"`
	Action       AuditAction `gorm:"size:20;not null" json:"action"`
	OldValues    *string     `gorm:"type:json" json:"old_values"`
	NewValues    *string     `gorm:"type:json" json:"new_values"`
	PerformedBy  int         `gorm:"index;not null" json:"performed_by"`
	Notes        string      `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
}

// saveAllocationAudit appends one entry inside the caller's transaction, so
// a mutation and its audit record commit or roll back together. Business and
// actor identity come from the transaction's context.
func saveAllocationAudit(tx *gorm.DB, action AuditAction, allocationId int, before, after interface{}, notes string) error {
	ctx := tx.Statement.Context

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return fmt.Errorf("audit: business id missing from context")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return fmt.Errorf("audit: user id missing from context")
	}

	entry := AllocationAuditLog{
		BusinessId:   businessId,
		AllocationId: allocationId,
		Action:       action,
		PerformedBy:  userId,
		Notes:        notes,
	}

	if before != nil {
		data, err := utils.MarshalToJSON(before)
		if err != nil {
			return err
		}
		entry.OldValues = &data
	}
	if after != nil {
		data, err := utils.MarshalToJSON(after)
		if err != nil {
			return err
		}
		entry.NewValues = &data
	}

	return tx.Create(&entry).Error
}

type AuditTrailFilter struct {
	Action      *AuditAction `json:"action"`
	PerformedBy *int         `json:"performed_by"`
	From        *time.Time   `json:"from"`
	To          *time.Time   `json:"to"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

// AuditTrailEntry is an audit row enriched with display context resolved at
// read time. Enrichment is best effort: a deleted allocation leaves the
// destination/product fields blank without failing the query.
type AuditTrailEntry struct {
	AllocationAuditLog
	PerformerName   string `json:"performer_name"`
	PerformerEmail  string `json:"performer_email"`
	PerformerRole   string `json:"performer_role"`
	DestinationName string `json:"destination_name"`
	ProductName     string `json:"product_name"`
	OrderNumber     string `json:"order_number"`
}

func auditTrailQuery(ctx context.Context, businessId string, allocationId int, filter *AuditTrailFilter) ([]AllocationAuditLog, error) {
	db := config.GetDB()

	q := db.WithContext(ctx).Where("business_id = ?", businessId)
	if allocationId > 0 {
		q = q.Where("allocation_id = ?", allocationId)
	}
	if filter != nil {
		if filter.Action != nil {
			q = q.Where("action = ?", *filter.Action)
		}
		if filter.PerformedBy != nil {
			q = q.Where("performed_by = ?", *filter.PerformedBy)
		}
		if filter.From != nil {
			q = q.Where("created_at >= ?", *filter.From)
		}
		if filter.To != nil {
			q = q.Where("created_at <= ?", *filter.To)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}

	var logs []AllocationAuditLog
	if err := q.Order("created_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func enrichAuditEntries(ctx context.Context, businessId string, logs []AllocationAuditLog) ([]*AuditTrailEntry, error) {
	db := config.GetDB()

	userIds := make([]int, 0, len(logs))
	allocationIds := make([]int, 0, len(logs))
	for _, log := range logs {
		userIds = append(userIds, log.PerformedBy)
		allocationIds = append(allocationIds, log.AllocationId)
	}
	userIds = utils.UniqueSlice(userIds)
	allocationIds = utils.UniqueSlice(allocationIds)

	users := make(map[int]User)
	if len(userIds) > 0 {
		var rows []User
		err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, userIds).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			users[row.ID] = row
		}
	}

	type allocationContext struct {
		DestinationName string
		ProductName     string
		OrderNumber     string
	}
	contexts := make(map[int]allocationContext)
	if len(allocationIds) > 0 {
		var rows []Allocation
		err := db.WithContext(ctx).
			Preload("TargetLocation").
			Preload("PurchaseOrderItem").
			Preload("PurchaseOrderItem.Product").
			Where("business_id = ? AND id IN ?", businessId, allocationIds).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			ac := allocationContext{}
			if row.TargetLocation != nil {
				ac.DestinationName = row.TargetLocation.Name
			}
			if row.PurchaseOrderItem != nil {
				if row.PurchaseOrderItem.Product != nil {
					ac.ProductName = row.PurchaseOrderItem.Product.Name
				}
				var order PurchaseOrder
				err := db.WithContext(ctx).
					Where("business_id = ? AND id = ?", businessId, row.PurchaseOrderItem.PurchaseOrderId).
					First(&order).Error
				if err == nil {
					ac.OrderNumber = order.OrderNumber
				}
			}
			contexts[row.ID] = ac
		}
	}

	entries := make([]*AuditTrailEntry, 0, len(logs))
	for _, log := range logs {
		entry := &AuditTrailEntry{AllocationAuditLog: log}
		if user, ok := users[log.PerformedBy]; ok {
			entry.PerformerName = user.Name
			entry.PerformerEmail = utils.DereferencePtr(user.Email)
			entry.PerformerRole = string(user.Role)
		}
		if ac, ok := contexts[log.AllocationId]; ok {
			entry.DestinationName = ac.DestinationName
			entry.ProductName = ac.ProductName
			entry.OrderNumber = ac.OrderNumber
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetAuditTrail returns the enriched mutation history, newest first. Pass
// allocationId 0 to query across all allocations of the tenant.
func GetAuditTrail(ctx context.Context, allocationId int, filter *AuditTrailFilter) ([]*AuditTrailEntry, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := auditTrailQuery(ctx, businessId, allocationId, filter)
	if err != nil {
		return nil, err
	}
	return enrichAuditEntries(ctx, businessId, logs)
}

type ComplianceReport struct {
	From                  *time.Time           `json:"from"`
	To                    *time.Time           `json:"to"`
	TotalEntries          int                  `json:"total_entries"`
	CountsByAction        map[AuditAction]int  `json:"counts_by_action"`
	CountsByUser          map[int]int          `json:"counts_by_user"`
	Trail                 []*AuditTrailEntry   `json:"trail"`
	OrphanedAuditLogs     []AllocationAuditLog `json:"orphaned_audit_logs"`
	MissingAuditLogs      []int                `json:"missing_audit_logs"`
	DataConsistencyIssues []string             `json:"data_consistency_issues"`
}

// classifyOrphanedLogs picks out entries whose allocation no longer exists
// without a recorded DELETED action explaining the absence. Entries that
// precede a DELETED entry for the same allocation are the expected residue
// of a legitimate pending-state delete.
func classifyOrphanedLogs(logs []AllocationAuditLog, liveAllocationIds map[int]bool) []AllocationAuditLog {
	deleted := make(map[int]bool)
	for _, log := range logs {
		if log.Action == AuditActionDeleted {
			deleted[log.AllocationId] = true
		}
	}

	var orphaned []AllocationAuditLog
	for _, log := range logs {
		if liveAllocationIds[log.AllocationId] {
			continue
		}
		if deleted[log.AllocationId] {
			continue
		}
		orphaned = append(orphaned, log)
	}
	return orphaned
}

// classifyMissingLogs returns ids of allocations whose status implies a
// recorded transition but whose trail carries no STATUS_CHANGED entry. A
// non-pending allocation can only have left Pending through the ledger, so
// the entry's absence means the trail was truncated or tampered with.
func classifyMissingLogs(logs []AllocationAuditLog, allocations []Allocation) []int {
	statusChanged := make(map[int]bool)
	for _, log := range logs {
		if log.Action == AuditActionStatusChanged {
			statusChanged[log.AllocationId] = true
		}
	}

	var missing []int
	for _, allocation := range allocations {
		if allocation.Status != AllocationStatusPending && !statusChanged[allocation.ID] {
			missing = append(missing, allocation.ID)
		}
	}
	sort.Ints(missing)
	return missing
}

func GenerateComplianceReport(ctx context.Context, from, to *time.Time) (*ComplianceReport, error) {
	db := config.GetDB()

	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	filter := &AuditTrailFilter{From: from, To: to}
	logs, err := auditTrailQuery(ctx, businessId, 0, filter)
	if err != nil {
		return nil, err
	}

	var allocations []Allocation
	err = db.WithContext(ctx).Where("business_id = ?", businessId).Find(&allocations).Error
	if err != nil {
		return nil, err
	}
	liveSet := make(map[int]bool, len(allocations))
	for _, allocation := range allocations {
		liveSet[allocation.ID] = true
	}

	// integrity checks run over the full trail, not the filtered window
	var allLogs []AllocationAuditLog
	err = db.WithContext(ctx).Where("business_id = ?", businessId).Find(&allLogs).Error
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		From:           from,
		To:             to,
		TotalEntries:   len(logs),
		CountsByAction: make(map[AuditAction]int),
		CountsByUser:   make(map[int]int),
	}
	for _, log := range logs {
		report.CountsByAction[log.Action]++
		report.CountsByUser[log.PerformedBy]++
	}

	report.Trail, err = enrichAuditEntries(ctx, businessId, logs)
	if err != nil {
		return nil, err
	}

	report.OrphanedAuditLogs = classifyOrphanedLogs(allLogs, liveSet)
	report.MissingAuditLogs = classifyMissingLogs(allLogs, allocations)

	createdCounts := make(map[int]int)
	for _, log := range allLogs {
		if log.Action == AuditActionCreated {
			createdCounts[log.AllocationId]++
		}
	}
	for id, count := range createdCounts {
		if count > 1 {
			report.DataConsistencyIssues = append(report.DataConsistencyIssues,
				fmt.Sprintf("allocation %d has %d CREATED entries", id, count))
		}
	}
	for _, allocation := range allocations {
		if createdCounts[allocation.ID] == 0 {
			report.DataConsistencyIssues = append(report.DataConsistencyIssues,
				fmt.Sprintf("allocation %d has no CREATED entry", allocation.ID))
		}
	}
	sort.Strings(report.DataConsistencyIssues)

	return report, nil
}

type AuditUserShare struct {
	UserId     int     `json:"user_id"`
	UserName   string  `json:"user_name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type AuditSummary struct {
	TotalEntries   int                 `json:"total_entries"`
	CountsByAction map[AuditAction]int `json:"counts_by_action"`
	TopUsers       []AuditUserShare    `json:"top_users"`
	RecentActivity []*AuditTrailEntry  `json:"recent_activity"`
}

const auditSummaryTopUsers = 5
const auditSummaryRecentLimit = 10

func GetAuditSummary(ctx context.Context, from, to *time.Time) (*AuditSummary, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := auditTrailQuery(ctx, businessId, 0, &AuditTrailFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	summary := &AuditSummary{
		TotalEntries:   len(logs),
		CountsByAction: make(map[AuditAction]int),
	}
	countsByUser := make(map[int]int)
	for _, log := range logs {
		summary.CountsByAction[log.Action]++
		countsByUser[log.PerformedBy]++
	}

	userIds := make([]int, 0, len(countsByUser))
	for id := range countsByUser {
		userIds = append(userIds, id)
	}
	sort.Slice(userIds, func(i, j int) bool {
		if countsByUser[userIds[i]] != countsByUser[userIds[j]] {
			return countsByUser[userIds[i]] > countsByUser[userIds[j]]
		}
		return userIds[i] < userIds[j]
	})
	if len(userIds) > auditSummaryTopUsers {
		userIds = userIds[:auditSummaryTopUsers]
	}

	db := config.GetDB()
	users := make(map[int]User)
	if len(userIds) > 0 {
		var rows []User
		err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, userIds).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			users[row.ID] = row
		}
	}

	for _, id := range userIds {
		share := AuditUserShare{UserId: id, Count: countsByUser[id]}
		if user, ok := users[id]; ok {
			share.UserName = user.Name
		}
		if summary.TotalEntries > 0 {
			share.Percentage = float64(countsByUser[id]) * 100 / float64(summary.TotalEntries)
		}
		summary.TopUsers = append(summary.TopUsers, share)
	}

	recent := logs
	if len(recent) > auditSummaryRecentLimit {
		recent = recent[:auditSummaryRecentLimit]
	}
	summary.RecentActivity, err = enrichAuditEntries(ctx, businessId, recent)
	if err != nil {
		return nil, err
	}

	return summary, nil
}
