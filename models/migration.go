package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&Product{}, &Machine{}, &Supplier{},
		&BOMItem{},
		&InventoryLot{}, &InventoryTransaction{},
		&WorkOrder{}, &WorkOrderOperation{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
