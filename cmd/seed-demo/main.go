package main

import (
	"context"
	"log"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/models"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/shopspring/decimal"
)

// Seeds a demo tenant with locations, a product and an approved purchase
// order, ready to allocate against.
func main() {
	config.ConnectDatabaseWithRetry()
	if err := models.MigrateTable(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()

	business, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Demo Restaurant Group",
		Email: "ops@demo.example.com",
		City:  "Singapore",
	})
	if err != nil {
		log.Fatalf("create business: %v", err)
	}

	user, err := models.CreateUser(ctx, business.ID.String(), &models.NewUser{
		Username: "demo-admin",
		Name:     "Demo Admin",
		Password: "demo-password",
		Role:     models.UserRoleAdmin,
	})
	if err != nil {
		log.Fatalf("create user: %v", err)
	}

	ctx = utils.SetBusinessIdInContext(ctx, business.ID.String())
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)

	for _, name := range []string{"Central Kitchen", "Orchard Outlet", "Marina Outlet"} {
		locType := models.LocationTypeOutlet
		if name == "Central Kitchen" {
			locType = models.LocationTypeCentralStore
		}
		if _, err := models.CreateLocation(ctx, &models.NewLocation{Name: name, Type: locType}); err != nil {
			log.Fatalf("create location %s: %v", name, err)
		}
	}

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:      "Jasmine Rice 25kg",
		Sku:       "RICE-25",
		Unit:      "bag",
		UnitPrice: decimal.NewFromInt(42),
	})
	if err != nil {
		log.Fatalf("create product: %v", err)
	}

	order, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber: "PO-DEMO-0001",
		Supplier:    "Golden Grain Trading",
		Items: []models.NewPurchaseOrderItem{
			{ProductId: product.ID, OrderedQty: decimal.NewFromInt(100), UnitPrice: decimal.NewFromInt(42)},
		},
	})
	if err != nil {
		log.Fatalf("create purchase order: %v", err)
	}
	if _, err := models.UpdatePurchaseOrderStatus(ctx, order.ID, models.PurchaseOrderStatusApproved); err != nil {
		log.Fatalf("approve purchase order: %v", err)
	}

	log.Printf("seeded business=%s user=%s order=%s", business.ID, user.Username, order.OrderNumber)
}
