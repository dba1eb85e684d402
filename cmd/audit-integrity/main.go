package main

import (
	"context"
	"flag"
	"log"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/models"
	"bitbucket.org/tablefocus/restoops_backend/utils"
)

// Runs the audit trail integrity checks for one tenant and prints the
// findings. Intended as a cron job alongside the API.
func main() {
	businessId := flag.String("business", "", "tenant id to check")
	userId := flag.Int("user", 0, "acting user id")
	flag.Parse()

	if *businessId == "" {
		log.Fatal("missing -business")
	}

	config.ConnectDatabaseWithRetry()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, *businessId)
	ctx = utils.SetUserIdInContext(ctx, *userId)

	report, err := models.GenerateComplianceReport(ctx, nil, nil)
	if err != nil {
		log.Fatalf("compliance report: %v", err)
	}

	log.Printf("entries=%d orphaned=%d missing=%d issues=%d",
		report.TotalEntries,
		len(report.OrphanedAuditLogs),
		len(report.MissingAuditLogs),
		len(report.DataConsistencyIssues))
	for _, issue := range report.DataConsistencyIssues {
		log.Printf("issue: %s", issue)
	}
	for _, orphan := range report.OrphanedAuditLogs {
		log.Printf("orphaned audit log id=%d allocation=%d action=%s", orphan.ID, orphan.AllocationId, orphan.Action)
	}
}
