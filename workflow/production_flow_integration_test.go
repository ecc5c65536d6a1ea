package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"bitbucket.org/mmdatafocus/factory_backend/workflow"
	"github.com/shopspring/decimal"
)

// End-to-end production run: receive raw material into dated lots,
// explode the recipe, drive a work order to completion, and check that
// every quantity is conserved between lots and the transaction log.
func TestProductionRunEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factory_test")

	db := config.ConnectDatabaseWithRetry()
	redis := config.ConnectRedisWithRetry(ctx)
	models.MigrateTable(db)

	logger := config.GetLogger()
	ledger := workflow.NewLotLedger(db, logger, redis)
	resolver := workflow.NewBOMResolver(db, logger, ledger)
	orchestrator := workflow.NewProductionOrchestrator(db, logger, redis, ledger, resolver)

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetCorrelationIdInContext(ctx, "run-e2e-1")

	gear, err := models.CreateProduct(ctx, db, &models.NewProduct{
		Code: "GEAR-01", Name: "Gear", Kind: models.ProductKindFinished,
	})
	if err != nil {
		t.Fatalf("create gear: %v", err)
	}
	blank, err := models.CreateProduct(ctx, db, &models.NewProduct{
		Code: "BLANK-01", Name: "Gear Blank", Kind: models.ProductKindRawMaterial,
	})
	if err != nil {
		t.Fatalf("create blank: %v", err)
	}

	gearEdge, err := resolver.AddEdge(ctx, &models.NewBOMItem{
		ParentProductId: gear.ID,
		ChildProductId:  blank.ID,
		Quantity:        decimal.NewFromInt(2),
		ScrapRate:       decimal.NewFromInt(10),
		SequenceOrder:   1,
		OperationType:   models.OperationTypeMachining,
	})
	if err != nil {
		t.Fatalf("add edge: %v", err)
	}

	// The reverse edge would close a cycle and must be refused.
	if _, err := resolver.AddEdge(ctx, &models.NewBOMItem{
		ParentProductId: blank.ID,
		ChildProductId:  gear.ID,
		Quantity:        decimal.NewFromInt(1),
	}); !utils.IsKind(err, utils.ErrorKindConflict) {
		t.Fatalf("expected Conflict for cycle edge, got %v", err)
	}

	day1 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	lot1, err := ledger.Receive(ctx, &workflow.ReceiveInput{
		ProductId:     blank.ID,
		Quantity:      decimal.NewFromInt(8),
		UnitCost:      decimal.NewFromInt(1200),
		ReferenceType: models.TransactionReferenceTypeSupplierReceipt,
		ReceivedDate:  day1,
	})
	if err != nil {
		t.Fatalf("receive lot1: %v", err)
	}
	if _, err := ledger.Receive(ctx, &workflow.ReceiveInput{
		ProductId:     blank.ID,
		Quantity:      decimal.NewFromInt(5),
		UnitCost:      decimal.NewFromInt(1350),
		ReferenceType: models.TransactionReferenceTypeSupplierReceipt,
		ReceivedDate:  day2,
	}); err != nil {
		t.Fatalf("receive lot2: %v", err)
	}

	available, err := ledger.AvailableQuantity(ctx, blank.ID)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(13)) {
		t.Fatalf("expected 13 blanks available, got %s", available)
	}

	// Requirements for 5 gears: 5 * 2 * 1.10 = 11 blanks, covered.
	requirements, err := resolver.ExplodeRequirements(ctx, gear.ID, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("explode: %v", err)
	}
	if len(requirements.Leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(requirements.Leaves))
	}
	leaf := requirements.Leaves[0]
	if !leaf.RequiredWithScrap.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("leaf required: expected 11, got %s", leaf.RequiredWithScrap)
	}
	if !leaf.Shortage.IsZero() {
		t.Fatalf("expected no shortage, got %s", leaf.Shortage)
	}

	order, err := orchestrator.Create(ctx, &models.NewWorkOrder{
		OrderNumber:     "WO-1001",
		ProductId:       gear.ID,
		BOMItemId:       &gearEdge.ID,
		PlannedQuantity: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("create work order: %v", err)
	}
	if order.Status != models.WorkOrderStatusPlanned {
		t.Fatalf("new order status: %s", order.Status)
	}

	if _, err := orchestrator.Create(ctx, &models.NewWorkOrder{
		OrderNumber:     "WO-1001",
		ProductId:       gear.ID,
		PlannedQuantity: decimal.NewFromInt(1),
	}); !utils.IsKind(err, utils.ErrorKindConflict) {
		t.Fatalf("expected Conflict for duplicate order number, got %v", err)
	}

	// An edge that builds a different product cannot drive this order.
	if _, err := orchestrator.Create(ctx, &models.NewWorkOrder{
		OrderNumber:     "WO-MISMATCH",
		ProductId:       blank.ID,
		BOMItemId:       &gearEdge.ID,
		PlannedQuantity: decimal.NewFromInt(1),
	}); !utils.IsKind(err, utils.ErrorKindValidation) {
		t.Fatalf("expected Validation for mismatched bom edge, got %v", err)
	}

	// An order far beyond stock must be refused at start and stay Planned.
	big, err := orchestrator.Create(ctx, &models.NewWorkOrder{
		OrderNumber:     "WO-1002",
		ProductId:       gear.ID,
		BOMItemId:       &gearEdge.ID,
		PlannedQuantity: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create big order: %v", err)
	}
	if _, err := orchestrator.Start(ctx, big.ID); !utils.IsKind(err, utils.ErrorKindValidation) {
		t.Fatalf("expected Validation for material shortage, got %v", err)
	}
	refetched, err := models.GetInventoryLot(ctx, db, lot1.ID)
	if err != nil {
		t.Fatalf("refetch lot1: %v", err)
	}
	if !refetched.CurrentQuantity.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("failed start must not touch stock, lot1 at %s", refetched.CurrentQuantity)
	}

	order, err = orchestrator.Start(ctx, order.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if order.Status != models.WorkOrderStatusInProgress || order.ActualStart == nil {
		t.Fatalf("started order: status %s start %v", order.Status, order.ActualStart)
	}

	// First report: 3 gears consume 6 blanks from the oldest lot.
	order, err = orchestrator.RecordProduction(ctx, order.ID, decimal.NewFromInt(3), decimal.Zero, "first shift")
	if err != nil {
		t.Fatalf("record production 1: %v", err)
	}
	refetched, err = models.GetInventoryLot(ctx, db, lot1.ID)
	if err != nil {
		t.Fatalf("refetch lot1: %v", err)
	}
	if !refetched.CurrentQuantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("FIFO should drain lot1 first: at %s", refetched.CurrentQuantity)
	}

	gearStock, err := ledger.AvailableQuantity(ctx, gear.ID)
	if err != nil {
		t.Fatalf("gear stock: %v", err)
	}
	if !gearStock.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected 3 gears in stock, got %s", gearStock)
	}

	order, err = orchestrator.Pause(ctx, order.ID, "tool change")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := orchestrator.RecordProduction(ctx, order.ID, decimal.NewFromInt(1), decimal.Zero, ""); !utils.IsKind(err, utils.ErrorKindValidation) {
		t.Fatalf("expected Validation reporting on paused order, got %v", err)
	}
	order, err = orchestrator.Resume(ctx, order.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}

	// Second report reaches planned quantity: 4 produced + 1 scrap = 5.
	order, err = orchestrator.RecordProduction(ctx, order.ID, decimal.NewFromInt(1), decimal.NewFromInt(1), "final shift")
	if err != nil {
		t.Fatalf("record production 2: %v", err)
	}
	if order.Status != models.WorkOrderStatusCompleted || order.ActualEnd == nil {
		t.Fatalf("expected auto-complete, status %s end %v", order.Status, order.ActualEnd)
	}

	blankLeft, err := ledger.AvailableQuantity(ctx, blank.ID)
	if err != nil {
		t.Fatalf("blank stock: %v", err)
	}
	if !blankLeft.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5 blanks left (13 - 8 consumed), got %s", blankLeft)
	}
	gearStock, err = ledger.AvailableQuantity(ctx, gear.ID)
	if err != nil {
		t.Fatalf("gear stock: %v", err)
	}
	if !gearStock.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected 4 gears in stock, got %s", gearStock)
	}

	// Conservation: for every blank lot, initial minus the signed
	// transaction sum equals current.
	var lots []*models.InventoryLot
	if err := db.WithContext(ctx).Where("product_id = ?", blank.ID).Find(&lots).Error; err != nil {
		t.Fatalf("fetch blank lots: %v", err)
	}
	for _, l := range lots {
		txns, err := ledger.LotTransactions(ctx, l.ID)
		if err != nil {
			t.Fatalf("lot %d transactions: %v", l.ID, err)
		}
		balance := decimal.Zero
		for _, txn := range txns {
			balance = balance.Add(txn.SignedQuantity())
			if txn.CorrelationId != "run-e2e-1" {
				t.Fatalf("lot %s: transaction %d missing correlation id, got %q", l.LotNumber, txn.ID, txn.CorrelationId)
			}
		}
		if !balance.Equal(l.CurrentQuantity) {
			t.Fatalf("lot %s: transaction balance %s, current %s", l.LotNumber, balance, l.CurrentQuantity)
		}
	}

	timeline, err := orchestrator.Timeline(ctx, order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	wantActions := []models.OperationAction{
		models.OperationActionStart,
		models.OperationActionProductionReport,
		models.OperationActionPause,
		models.OperationActionResume,
		models.OperationActionProductionReport,
		models.OperationActionComplete,
	}
	if len(timeline) != len(wantActions) {
		t.Fatalf("timeline length: expected %d, got %d", len(wantActions), len(timeline))
	}
	for i, op := range timeline {
		if op.Action != wantActions[i] {
			t.Fatalf("timeline[%d]: expected %s, got %s", i, wantActions[i], op.Action)
		}
		if op.Sequence != i+1 {
			t.Fatalf("timeline[%d]: sequence %d", i, op.Sequence)
		}
	}

	// Terminal orders are immutable.
	if _, err := orchestrator.Cancel(ctx, order.ID, "too late"); !utils.IsKind(err, utils.ErrorKindValidation) {
		t.Fatalf("expected Validation cancelling completed order, got %v", err)
	}

	// Over-consume through the ledger directly: stock is untouched on
	// failure and no OUT rows appear.
	txnsBefore, err := ledger.Transactions(ctx, blank.ID)
	if err != nil {
		t.Fatalf("transactions before: %v", err)
	}
	if _, err := ledger.Consume(ctx, blank.ID, decimal.NewFromInt(50), workflow.ConsumeOptions{
		ReferenceType: models.TransactionReferenceTypeManualAdjustment,
		Reason:        "oversell attempt",
	}); !utils.IsKind(err, utils.ErrorKindInsufficientStock) {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}
	txnsAfter, err := ledger.Transactions(ctx, blank.ID)
	if err != nil {
		t.Fatalf("transactions after: %v", err)
	}
	if len(txnsAfter) != len(txnsBefore) {
		t.Fatalf("failed consume must not log transactions: %d -> %d", len(txnsBefore), len(txnsAfter))
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factory-test-redis-%d", time.Now().UnixNano())
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
	// wait until ready
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
	name := fmt.Sprintf("factory-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=factory_test",
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
	// wait until ready
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
	// Example: "127.0.0.1:49154\n"
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
