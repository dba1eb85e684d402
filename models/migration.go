package models

import (
	"bitbucket.org/tablefocus/restoops_backend/config"
)

func MigrateTable() error {
	db := config.GetDB()

	return db.AutoMigrate(
		&Business{},
		&User{},
		&Location{},
		&Product{},
		&PurchaseOrder{},
		&PurchaseOrderItem{},
		&Allocation{},
		&AllocationAuditLog{},
		&AllocationTemplate{},
		&MovementRequest{},
		&TransferAllocation{},
	)
}
