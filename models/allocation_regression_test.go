package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/models"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"bitbucket.org/tablefocus/restoops_backend/workflow"
	"github.com/shopspring/decimal"
)

func TestAllocationSubsystemRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "restoops_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Test Restaurant Group",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessID := biz.ID.String()

	user, err := models.CreateUser(ctx, businessID, &models.NewUser{
		Username: "test-admin",
		Name:     "Test Admin",
		Password: "test-password",
		Role:     models.UserRoleAdmin,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)

	var locations []*models.Location
	for _, name := range []string{"Central Kitchen", "Outlet One", "Outlet Two", "Outlet Three", "Outlet Four", "Outlet Five"} {
		loc, err := models.CreateLocation(ctx, &models.NewLocation{Name: name})
		if err != nil {
			t.Fatalf("CreateLocation %s: %v", name, err)
		}
		locations = append(locations, loc)
	}

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:      "Rice 25kg",
		Sku:       "RICE-25",
		Unit:      "bag",
		UnitPrice: decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	newApprovedOrder := func(t *testing.T, orderNumber string, quantities ...int64) *models.PurchaseOrder {
		t.Helper()
		var items []models.NewPurchaseOrderItem
		for _, q := range quantities {
			items = append(items, models.NewPurchaseOrderItem{
				ProductId:  product.ID,
				OrderedQty: decimal.NewFromInt(q),
				UnitPrice:  decimal.NewFromInt(40),
			})
		}
		order, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
			OrderNumber: orderNumber,
			Supplier:    "Test Supplier",
			Items:       items,
		})
		if err != nil {
			t.Fatalf("CreatePurchaseOrder %s: %v", orderNumber, err)
		}
		order, err = models.UpdatePurchaseOrderStatus(ctx, order.ID, models.PurchaseOrderStatusApproved)
		if err != nil {
			t.Fatalf("approve %s: %v", orderNumber, err)
		}
		// reload with items
		order, err = models.GetPurchaseOrderById(ctx, businessID, order.ID)
		if err != nil {
			t.Fatalf("reload %s: %v", orderNumber, err)
		}
		return order
	}

	t.Run("sequential headroom", func(t *testing.T) {
		order := newApprovedOrder(t, "PO-SEQ-001", 100)
		item := order.Items[0]

		if _, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[1].ID,
			Quantity:            decimal.NewFromInt(60),
		}); err != nil {
			t.Fatalf("allocate 60: %v", err)
		}

		_, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[2].ID,
			Quantity:            decimal.NewFromInt(50),
		})
		if !utils.IsCode(err, utils.ErrorCodeOverAllocation) {
			t.Fatalf("allocate 50 = %v, want OVER_ALLOCATION", err)
		}

		if _, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[2].ID,
			Quantity:            decimal.NewFromInt(40),
		}); err != nil {
			t.Fatalf("allocate 40: %v", err)
		}

		_, err = models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[1].ID,
			Quantity:            decimal.NewFromInt(1),
		})
		if !utils.IsCode(err, utils.ErrorCodeDuplicateDestination) {
			t.Fatalf("repeat destination = %v, want DUPLICATE_DESTINATION", err)
		}

		matrix, err := models.GetAllocationsForPurchaseOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetAllocationsForPurchaseOrder: %v", err)
		}
		if !matrix.Items[0].AllocatedQty.Equal(decimal.NewFromInt(100)) {
			t.Errorf("allocated total = %s, want 100", matrix.Items[0].AllocatedQty)
		}
		if !matrix.Items[0].RemainingQty.IsZero() {
			t.Errorf("remaining = %s, want 0", matrix.Items[0].RemainingQty)
		}

		_, err = models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
			OrderNumber: "PO-SEQ-001",
			Items:       []models.NewPurchaseOrderItem{{ProductId: product.ID, OrderedQty: decimal.NewFromInt(1)}},
		})
		if !utils.IsCode(err, utils.ErrorCodeInvalidInput) {
			t.Fatalf("duplicate order number = %v, want INVALID_INPUT", err)
		}
	})

	t.Run("lifecycle guards", func(t *testing.T) {
		order := newApprovedOrder(t, "PO-LIFE-001", 10)
		item := order.Items[0]

		allocation, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[1].ID,
			Quantity:            decimal.NewFromInt(10),
		})
		if err != nil {
			t.Fatalf("CreateAllocation: %v", err)
		}

		if _, err := models.UpdateAllocationStatus(ctx, allocation.ID, models.AllocationStatusShipped); err != nil {
			t.Fatalf("ship: %v", err)
		}

		_, err = models.UpdateAllocationStatus(ctx, allocation.ID, models.AllocationStatusShipped)
		if !utils.IsCode(err, utils.ErrorCodeInvalidTransition) {
			t.Fatalf("shipped -> shipped = %v, want INVALID_TRANSITION", err)
		}

		five := decimal.NewFromInt(5)
		_, err = models.UpdateAllocation(ctx, allocation.ID, &models.UpdateAllocationInput{Quantity: &five})
		if !utils.IsCode(err, utils.ErrorCodeInvalidState) {
			t.Fatalf("quantity after ship = %v, want INVALID_STATE", err)
		}

		ten := decimal.NewFromInt(10)
		if _, err := models.UpdateAllocation(ctx, allocation.ID, &models.UpdateAllocationInput{ReceivedQty: &ten}); err != nil {
			t.Fatalf("set received: %v", err)
		}

		eleven := decimal.NewFromInt(11)
		_, err = models.UpdateAllocation(ctx, allocation.ID, &models.UpdateAllocationInput{ReceivedQty: &eleven})
		if !utils.IsCode(err, utils.ErrorCodeInvalidInput) {
			t.Fatalf("received > allocated = %v, want INVALID_INPUT", err)
		}

		if _, err := models.UpdateAllocationStatus(ctx, allocation.ID, models.AllocationStatusReceived); err != nil {
			t.Fatalf("receive: %v", err)
		}

		err = models.DeleteAllocation(ctx, allocation.ID)
		if !utils.IsCode(err, utils.ErrorCodeInvalidState) {
			t.Fatalf("delete received = %v, want INVALID_STATE", err)
		}

		_, err = models.UpdateAllocationStatus(ctx, allocation.ID, models.AllocationStatusPending)
		if !utils.IsCode(err, utils.ErrorCodeInvalidTransition) {
			t.Fatalf("received -> pending = %v, want INVALID_TRANSITION", err)
		}

		trail, err := models.GetAuditTrail(ctx, allocation.ID, nil)
		if err != nil {
			t.Fatalf("GetAuditTrail: %v", err)
		}
		var actions []models.AuditAction
		for i := len(trail) - 1; i >= 0; i-- {
			actions = append(actions, trail[i].Action)
		}
		want := []models.AuditAction{
			models.AuditActionCreated,
			models.AuditActionStatusChanged,
			models.AuditActionUpdated,
			models.AuditActionStatusChanged,
		}
		if len(actions) != len(want) {
			t.Fatalf("trail actions = %v, want %v", actions, want)
		}
		for i := range want {
			if actions[i] != want[i] {
				t.Fatalf("trail actions = %v, want %v", actions, want)
			}
		}
		if trail[len(trail)-1].OldValues != nil {
			t.Error("CREATED entry must have null old values")
		}
	})

	t.Run("concurrent headroom", func(t *testing.T) {
		order := newApprovedOrder(t, "PO-CONC-001", 60)
		item := order.Items[0]

		const workers = 5
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = models.CreateAllocation(ctx, &models.NewAllocation{
					PurchaseOrderItemId: item.ID,
					TargetLocationId:    locations[i+1].ID,
					Quantity:            decimal.NewFromInt(30),
				})
			}(i)
		}
		wg.Wait()

		var succeeded, overAllocated int
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case utils.IsCode(err, utils.ErrorCodeOverAllocation):
				overAllocated++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if succeeded != 2 || overAllocated != 3 {
			t.Fatalf("succeeded=%d overAllocated=%d, want exactly 2 and 3", succeeded, overAllocated)
		}

		matrix, err := models.GetAllocationsForPurchaseOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetAllocationsForPurchaseOrder: %v", err)
		}
		if !matrix.Items[0].AllocatedQty.Equal(decimal.NewFromInt(60)) {
			t.Errorf("committed total = %s, want exactly 60", matrix.Items[0].AllocatedQty)
		}
	})

	t.Run("bulk equal distribution", func(t *testing.T) {
		order := newApprovedOrder(t, "PO-BULK-001", 90)

		request := &workflow.BulkAllocationRequest{
			PurchaseOrderId: order.ID,
			Strategy:        models.BulkStrategyEqualDistribution,
			Destinations: []workflow.BulkDestinationRule{
				{TargetLocationId: locations[1].ID},
				{TargetLocationId: locations[2].ID},
				{TargetLocationId: locations[3].ID},
			},
		}

		result, err := workflow.BulkAllocate(ctx, request)
		if err != nil {
			t.Fatalf("BulkAllocate: %v", err)
		}
		if result.TotalCreated != 3 || result.TotalFailed != 0 {
			t.Fatalf("created=%d failed=%d, want 3/0", result.TotalCreated, result.TotalFailed)
		}
		for _, allocation := range result.CreatedAllocations {
			if !allocation.AllocatedQty.Equal(decimal.NewFromInt(30)) {
				t.Errorf("allocation got %s, want 30", allocation.AllocatedQty)
			}
		}

		request.ValidateOnly = true
		dryRun, err := workflow.BulkAllocate(ctx, request)
		if err != nil {
			t.Fatalf("BulkAllocate dry run: %v", err)
		}
		if len(dryRun.CreatedAllocations) != 0 {
			t.Errorf("dry run created %d rows", len(dryRun.CreatedAllocations))
		}
		if dryRun.TotalFailed != 3 {
			t.Fatalf("dry run failures = %d, want 3", dryRun.TotalFailed)
		}
		for _, failure := range dryRun.FailedAllocations {
			if failure.Code != utils.ErrorCodeDuplicateDestination {
				t.Errorf("failure code = %s, want DUPLICATE_DESTINATION", failure.Code)
			}
		}
	})

	t.Run("bulk partial failure accounting", func(t *testing.T) {
		order := newApprovedOrder(t, "PO-BULK-002", 100, 100)
		first, second := order.Items[0], order.Items[1]

		// eat most of the first line's headroom up front
		if _, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: first.ID,
			TargetLocationId:    locations[4].ID,
			Quantity:            decimal.NewFromInt(80),
		}); err != nil {
			t.Fatalf("CreateAllocation: %v", err)
		}

		half := decimal.NewFromInt(50)
		result, err := workflow.BulkAllocate(ctx, &workflow.BulkAllocationRequest{
			PurchaseOrderId: order.ID,
			Strategy:        models.BulkStrategyPercentageSplit,
			Destinations: []workflow.BulkDestinationRule{
				{TargetLocationId: locations[1].ID, Percentage: &half},
				{TargetLocationId: locations[2].ID, Percentage: &half},
			},
		})
		if err != nil {
			t.Fatalf("BulkAllocate: %v", err)
		}

		// the over-allocating line produces zero rows, the healthy line both
		if result.TotalCreated != 2 {
			t.Fatalf("created = %d, want 2", result.TotalCreated)
		}
		for _, allocation := range result.CreatedAllocations {
			if allocation.PurchaseOrderItemId != second.ID {
				t.Errorf("allocation created on item %d, want only item %d", allocation.PurchaseOrderItemId, second.ID)
			}
		}
		if result.TotalFailed != 1 {
			t.Fatalf("failed = %d, want 1: %+v", result.TotalFailed, result.FailedAllocations)
		}
		failure := result.FailedAllocations[0]
		if failure.Code != utils.ErrorCodeOverAllocation {
			t.Errorf("failure code = %s, want OVER_ALLOCATION", failure.Code)
		}
		if failure.PurchaseOrderItemId != first.ID {
			t.Errorf("failure on item %d, want item %d", failure.PurchaseOrderItemId, first.ID)
		}

		matrix, err := models.GetAllocationsForPurchaseOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetAllocationsForPurchaseOrder: %v", err)
		}
		if !matrix.Items[0].AllocatedQty.Equal(decimal.NewFromInt(80)) {
			t.Errorf("first line total = %s, want the pre-existing 80 only", matrix.Items[0].AllocatedQty)
		}
	})

	t.Run("transfer bridge round trip", func(t *testing.T) {
		order := newApprovedOrder(t, "PO-BRIDGE-001", 50)
		item := order.Items[0]

		allocation, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[1].ID,
			Quantity:            decimal.NewFromInt(50),
		})
		if err != nil {
			t.Fatalf("CreateAllocation: %v", err)
		}

		_, err = models.CreateTransferFromAllocation(ctx, &models.NewTransferFromAllocation{
			AllocationId:          allocation.ID,
			DestinationLocationId: locations[2].ID,
		})
		if !utils.IsCode(err, utils.ErrorCodeInvalidState) {
			t.Fatalf("transfer from pending = %v, want INVALID_STATE", err)
		}

		if _, err := models.UpdateAllocationStatus(ctx, allocation.ID, models.AllocationStatusShipped); err != nil {
			t.Fatalf("ship: %v", err)
		}
		thirty := decimal.NewFromInt(30)
		if _, err := models.UpdateAllocation(ctx, allocation.ID, &models.UpdateAllocationInput{ReceivedQty: &thirty}); err != nil {
			t.Fatalf("set received: %v", err)
		}

		created, err := models.CreateTransferFromAllocation(ctx, &models.NewTransferFromAllocation{
			AllocationId:          allocation.ID,
			DestinationLocationId: locations[2].ID,
		})
		if err != nil {
			t.Fatalf("CreateTransferFromAllocation: %v", err)
		}
		// received quantity wins over allocated
		if !created.Movement.QuantityRequested.Equal(thirty) {
			t.Errorf("movement quantity = %s, want 30", created.Movement.QuantityRequested)
		}
		if created.Movement.SourceLocationId != allocation.TargetLocationId {
			t.Error("movement source must be the allocation destination")
		}

		_, err = models.LinkTransferToAllocation(ctx, created.Movement.ID, allocation.ID)
		if !utils.IsCode(err, utils.ErrorCodeDuplicateLink) {
			t.Fatalf("relink = %v, want DUPLICATE_LINK", err)
		}

		// partial arrival: 20 arrives, 10 keeps moving
		partial, err := models.HandlePartialTransferScenario(ctx, allocation.ID, decimal.NewFromInt(20))
		if err != nil {
			t.Fatalf("HandlePartialTransferScenario: %v", err)
		}
		if !partial.OriginalTransfer.QuantityRequested.Equal(decimal.NewFromInt(20)) {
			t.Errorf("original resized to %s, want 20", partial.OriginalTransfer.QuantityRequested)
		}
		if !partial.PartialTransfer.QuantityRequested.Equal(decimal.NewFromInt(10)) {
			t.Errorf("remainder = %s, want 10", partial.PartialTransfer.QuantityRequested)
		}
		if len(partial.Links) != 2 {
			t.Fatalf("links = %d, want 2", len(partial.Links))
		}

		// movement received promotes the allocation, idempotently
		if _, err := models.UpdateMovementRequestStatus(ctx, created.Movement.ID, models.MovementStatusInTransit); err != nil {
			t.Fatalf("in transit: %v", err)
		}
		if _, err := models.UpdateMovementRequestStatus(ctx, created.Movement.ID, models.MovementStatusReceived); err != nil {
			t.Fatalf("received: %v", err)
		}
		results, err := models.SyncAllocationTransferStatus(ctx, allocation.ID)
		if err != nil {
			t.Fatalf("SyncAllocationTransferStatus: %v", err)
		}
		var promoted bool
		for _, r := range results {
			promoted = promoted || r.Promoted
		}
		if !promoted {
			t.Error("sync did not promote the allocation")
		}
		again, err := models.SyncAllocationTransferStatus(ctx, allocation.ID)
		if err != nil {
			t.Fatalf("second sync: %v", err)
		}
		for _, r := range again {
			if r.Promoted {
				t.Error("second sync must be a no-op")
			}
		}

		chain, err := models.GetTraceabilityChain(ctx, allocation.ID)
		if err != nil {
			t.Fatalf("GetTraceabilityChain: %v", err)
		}
		if len(chain.Transfers) != 2 {
			t.Errorf("chain transfers = %d, want 2", len(chain.Transfers))
		}
		if len(chain.Locations) < 2 {
			t.Errorf("chain locations = %d, want source and destination at least", len(chain.Locations))
		}
		if chain.Product == nil || chain.Product.ID != product.ID {
			t.Error("chain must resolve the underlying product")
		}
	})

	t.Run("audit integrity", func(t *testing.T) {
		order := newApprovedOrder(t, "PO-AUDIT-001", 20)
		item := order.Items[0]

		deleted, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[1].ID,
			Quantity:            decimal.NewFromInt(5),
		})
		if err != nil {
			t.Fatalf("CreateAllocation: %v", err)
		}
		if err := models.DeleteAllocation(ctx, deleted.ID); err != nil {
			t.Fatalf("DeleteAllocation: %v", err)
		}

		vanished, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[2].ID,
			Quantity:            decimal.NewFromInt(5),
		})
		if err != nil {
			t.Fatalf("CreateAllocation: %v", err)
		}
		// simulate data loss outside the ledger
		db := config.GetDB()
		if err := db.Exec("DELETE FROM allocations WHERE id = ?", vanished.ID).Error; err != nil {
			t.Fatalf("raw delete: %v", err)
		}

		tampered, err := models.CreateAllocation(ctx, &models.NewAllocation{
			PurchaseOrderItemId: item.ID,
			TargetLocationId:    locations[3].ID,
			Quantity:            decimal.NewFromInt(5),
		})
		if err != nil {
			t.Fatalf("CreateAllocation: %v", err)
		}
		if _, err := models.UpdateAllocationStatus(ctx, tampered.ID, models.AllocationStatusShipped); err != nil {
			t.Fatalf("ship: %v", err)
		}
		// strip the transition trace, leaving a shipped allocation with a
		// created-only trail
		err = db.Exec("DELETE FROM allocation_audit_logs WHERE allocation_id = ? AND action = ?",
			tampered.ID, models.AuditActionStatusChanged).Error
		if err != nil {
			t.Fatalf("raw audit delete: %v", err)
		}

		report, err := models.GenerateComplianceReport(ctx, nil, nil)
		if err != nil {
			t.Fatalf("GenerateComplianceReport: %v", err)
		}

		for _, orphan := range report.OrphanedAuditLogs {
			if orphan.AllocationId == deleted.ID {
				t.Errorf("entry for legitimately deleted allocation %d flagged as orphaned", deleted.ID)
			}
		}
		var foundVanished bool
		for _, orphan := range report.OrphanedAuditLogs {
			if orphan.AllocationId == vanished.ID {
				foundVanished = true
			}
		}
		if !foundVanished {
			t.Errorf("raw-deleted allocation %d not flagged as orphaned", vanished.ID)
		}
		if len(report.MissingAuditLogs) != 1 || report.MissingAuditLogs[0] != tampered.ID {
			t.Errorf("missing audit logs = %v, want only %d", report.MissingAuditLogs, tampered.ID)
		}

		summary, err := models.GetAuditSummary(ctx, nil, nil)
		if err != nil {
			t.Fatalf("GetAuditSummary: %v", err)
		}
		if summary.TotalEntries == 0 || len(summary.TopUsers) == 0 {
			t.Error("summary is empty")
		}
		if len(summary.RecentActivity) > 10 {
			t.Errorf("recent activity = %d entries, want at most 10", len(summary.RecentActivity))
		}

		csvOut, err := models.ExportAuditData(ctx, models.AuditExportCSV, 0, nil)
		if err != nil {
			t.Fatalf("ExportAuditData csv: %v", err)
		}
		if !strings.HasPrefix(csvOut, "audit_id,") {
			t.Errorf("csv export missing header: %q", csvOut[:min(len(csvOut), 40)])
		}
		jsonOut, err := models.ExportAuditData(ctx, models.AuditExportJSON, 0, nil)
		if err != nil {
			t.Fatalf("ExportAuditData json: %v", err)
		}
		if !strings.HasPrefix(jsonOut, "[") {
			t.Errorf("json export is not an array: %q", jsonOut[:min(len(jsonOut), 40)])
		}
	})

	t.Run("tenant isolation", func(t *testing.T) {
		other, err := models.CreateBusiness(ctx, &models.NewBusiness{
			Name:  "Other Group",
			Email: "other@test.local",
		})
		if err != nil {
			t.Fatalf("CreateBusiness: %v", err)
		}
		otherCtx := utils.SetBusinessIdInContext(context.Background(), other.ID.String())
		otherCtx = utils.SetUserIdInContext(otherCtx, user.ID)
		otherCtx = utils.SetUserNameInContext(otherCtx, user.Name)

		trail, err := models.GetAuditTrail(otherCtx, 0, nil)
		if err != nil {
			t.Fatalf("GetAuditTrail: %v", err)
		}
		if len(trail) != 0 {
			t.Errorf("tenant leakage: other business sees %d audit entries", len(trail))
		}
	})
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("restoops-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("restoops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=restoops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
