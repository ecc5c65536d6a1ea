// seed-dev loads a small machining catalog for local development: a
// finished gearbox with a two-level recipe, a machine park, and dated
// raw-material lots so FIFO behavior is visible immediately.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
//
// Safe to re-run: existing product codes and machines are reused, not
// duplicated. Lots are always appended.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"bitbucket.org/mmdatafocus/factory_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	ctx := context.Background()
	db := config.ConnectDatabaseWithRetry()
	redis := config.ConnectRedis(ctx)
	models.MigrateTable(db)

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	logger := config.GetLogger()
	ledger := workflow.NewLotLedger(db, logger, redis)
	resolver := workflow.NewBOMResolver(db, logger, ledger)

	gearbox := ensureProduct(ctx, db, "GBX-100", "Gearbox Assembly", models.ProductKindFinished)
	housing := ensureProduct(ctx, db, "HSG-100", "Gearbox Housing", models.ProductKindSemiFinished)
	gear := ensureProduct(ctx, db, "GEAR-20", "20T Gear", models.ProductKindSemiFinished)
	castBlank := ensureProduct(ctx, db, "CAST-H1", "Housing Casting", models.ProductKindRawMaterial)
	steelRod := ensureProduct(ctx, db, "ROD-S45C", "S45C Steel Rod", models.ProductKindRawMaterial)
	bolts := ensureProduct(ctx, db, "BOLT-M8", "M8 Bolt", models.ProductKindRawMaterial)

	ensureMachine(ctx, db, "CNC-01", "CNC Mill 01", "CNC")
	ensureMachine(ctx, db, "LATHE-01", "Lathe 01", "Lathe")

	foundry := ensureSupplier(ctx, db, "SUP-FND", "Eastern Foundry")
	steelMill := ensureSupplier(ctx, db, "SUP-STL", "Yangon Steel")

	ensureEdge(ctx, db, resolver, gearbox.ID, housing.ID, "1", "0", 1, models.OperationTypeAssembly)
	ensureEdge(ctx, db, resolver, gearbox.ID, gear.ID, "2", "5", 2, models.OperationTypeAssembly)
	ensureEdge(ctx, db, resolver, gearbox.ID, bolts.ID, "8", "2", 3, models.OperationTypeAssembly)
	ensureEdge(ctx, db, resolver, housing.ID, castBlank.ID, "1", "8", 1, models.OperationTypeMachining)
	ensureEdge(ctx, db, resolver, gear.ID, steelRod.ID, "0.4", "12", 1, models.OperationTypeMachining)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seedLot(ctx, ledger, castBlank.ID, &foundry.ID, "25", "850", today.AddDate(0, 0, -14))
	seedLot(ctx, ledger, castBlank.ID, &foundry.ID, "30", "870", today.AddDate(0, 0, -3))
	seedLot(ctx, ledger, steelRod.ID, &steelMill.ID, "120.5", "14.2", today.AddDate(0, 0, -21))
	seedLot(ctx, ledger, steelRod.ID, &steelMill.ID, "80", "14.9", today.AddDate(0, 0, -2))
	seedLot(ctx, ledger, bolts.ID, nil, "5000", "0.12", today.AddDate(0, 0, -30))

	fmt.Println("dev seed complete")
}

func ensureProduct(ctx context.Context, db *gorm.DB, code, name string, kind models.ProductKind) *models.Product {
	var existing models.Product
	err := db.WithContext(ctx).Where("code = ?", code).First(&existing).Error
	if err == nil {
		return &existing
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		fmt.Fprintf(os.Stderr, "lookup product %s: %v\n", code, err)
		os.Exit(1)
	}

	product, err := models.CreateProduct(ctx, db, &models.NewProduct{
		Code: code,
		Name: name,
		Kind: kind,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create product %s: %v\n", code, err)
		os.Exit(1)
	}
	fmt.Printf("created product %s (%s)\n", code, kind)
	return product
}

func ensureSupplier(ctx context.Context, db *gorm.DB, code, name string) *models.Supplier {
	var existing models.Supplier
	err := db.WithContext(ctx).Where("code = ?", code).First(&existing).Error
	if err == nil {
		return &existing
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		fmt.Fprintf(os.Stderr, "lookup supplier %s: %v\n", code, err)
		os.Exit(1)
	}

	supplier, err := models.CreateSupplier(ctx, db, &models.NewSupplier{Code: code, Name: name})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create supplier %s: %v\n", code, err)
		os.Exit(1)
	}
	fmt.Printf("created supplier %s\n", code)
	return supplier
}

func ensureMachine(ctx context.Context, db *gorm.DB, code, name, machineType string) {
	var existing models.Machine
	err := db.WithContext(ctx).Where("code = ?", code).First(&existing).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		fmt.Fprintf(os.Stderr, "lookup machine %s: %v\n", code, err)
		os.Exit(1)
	}

	active := true
	machine := models.Machine{Code: code, Name: name, MachineType: machineType, IsActive: &active}
	if err := db.WithContext(ctx).Create(&machine).Error; err != nil {
		fmt.Fprintf(os.Stderr, "create machine %s: %v\n", code, err)
		os.Exit(1)
	}
	fmt.Printf("created machine %s\n", code)
}

func ensureEdge(ctx context.Context, db *gorm.DB, resolver *workflow.BOMResolver, parentId, childId int, qty, scrapRate string, seq int, op models.OperationType) {
	var count int64
	err := db.WithContext(ctx).Model(&models.BOMItem{}).
		Where("parent_product_id = ? AND child_product_id = ? AND is_active = true", parentId, childId).
		Count(&count).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookup edge %d->%d: %v\n", parentId, childId, err)
		os.Exit(1)
	}
	if count > 0 {
		return
	}

	if _, err := resolver.AddEdge(ctx, &models.NewBOMItem{
		ParentProductId: parentId,
		ChildProductId:  childId,
		Quantity:        mustDecimal(qty),
		ScrapRate:       mustDecimal(scrapRate),
		SequenceOrder:   seq,
		OperationType:   op,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "create edge %d->%d: %v\n", parentId, childId, err)
		os.Exit(1)
	}
	fmt.Printf("created edge %d -> %d (qty %s, scrap %s%%)\n", parentId, childId, qty, scrapRate)
}

func seedLot(ctx context.Context, ledger *workflow.LotLedger, productId int, supplierId *int, qty, unitCost string, receivedDate time.Time) {
	lot, err := ledger.Receive(ctx, &workflow.ReceiveInput{
		ProductId:     productId,
		SupplierId:    supplierId,
		Quantity:      mustDecimal(qty),
		UnitCost:      mustDecimal(unitCost),
		ReferenceType: models.TransactionReferenceTypeSupplierReceipt,
		ReceivedDate:  receivedDate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed lot for product %d: %v\n", productId, err)
		os.Exit(1)
	}
	fmt.Printf("received lot %s (%s)\n", lot.LotNumber, qty)
}

func mustDecimal(value string) decimal.Decimal {
	dec, err := utils.ConvertStringToDecimal(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid decimal %q: %v\n", value, err)
		os.Exit(1)
	}
	return dec
}
