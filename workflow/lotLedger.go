package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const lotLedgerModule = "lotLedger"

// LotLedger is the single writer of inventory lots and transactions.
// It holds its storage handle explicitly; callers construct one and
// pass it around.
type LotLedger struct {
	db     *gorm.DB
	logger *logrus.Logger
	redis  *config.RedisHandles
	now    func() time.Time
}

func NewLotLedger(db *gorm.DB, logger *logrus.Logger, redis *config.RedisHandles) *LotLedger {
	return &LotLedger{
		db:     db,
		logger: logger,
		redis:  redis,
		now:    time.Now,
	}
}

// LotAllocation is one slice of a FIFO (or manual) allocation plan.
type LotAllocation struct {
	Lot      *models.InventoryLot `json:"lot"`
	Quantity decimal.Decimal      `json:"quantity"`
	UnitCost decimal.Decimal      `json:"unit_cost"`
}

type ReceiveInput struct {
	ProductId     int                             `json:"product_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal                 `json:"quantity"`
	SupplierId    *int                            `json:"supplier_id"`
	UnitCost      decimal.Decimal                 `json:"unit_cost"`
	ReferenceType models.TransactionReferenceType `json:"reference_type"`
	ReferenceId   int                             `json:"reference_id"`
	ReceivedDate  time.Time                       `json:"received_date"`
}

type ConsumeOptions struct {
	// ManualLotId bypasses FIFO and draws only from that lot. Requires
	// Reason.
	ManualLotId   *int
	Reason        string
	ReferenceType models.TransactionReferenceType
	ReferenceId   int
}

// planAllocation walks lots already in FIFO order and greedily assigns
// min(lot.current, remaining) to each until the request is covered.
// Returns the plan and the uncovered remainder (zero when fully
// covered). Pure; mutates nothing.
func planAllocation(lots []*models.InventoryLot, quantity decimal.Decimal) ([]LotAllocation, decimal.Decimal) {
	remaining := quantity
	var plan []LotAllocation
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(lot.CurrentQuantity, remaining)
		if !take.IsPositive() {
			continue
		}
		plan = append(plan, LotAllocation{Lot: lot, Quantity: take, UnitCost: lot.UnitCost})
		remaining = remaining.Sub(take)
	}
	return plan, remaining
}

// Receive creates a new lot with initial = current = quantity, a
// generated lot number (product code + receipt date + daily sequence)
// and one IN transaction, all in one transaction.
func (l *LotLedger) Receive(ctx context.Context, input *ReceiveInput) (*models.InventoryLot, error) {
	var lot *models.InventoryLot
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		lot, txErr = l.receiveInTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return lot, nil
}

func (l *LotLedger) receiveInTx(ctx context.Context, tx *gorm.DB, input *ReceiveInput) (*models.InventoryLot, error) {
	if !input.Quantity.IsPositive() {
		return nil, utils.ValidationError("receive quantity must be positive")
	}
	product, err := models.GetProduct(ctx, tx, input.ProductId)
	if err != nil {
		return nil, utils.NotFoundError("product %d not found", input.ProductId)
	}
	if input.SupplierId != nil {
		if err := models.ValidateActiveSupplier(ctx, tx, *input.SupplierId); err != nil {
			return nil, err
		}
	}

	receivedDate := input.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = l.now()
	}

	lotNumber, err := l.nextLotNumber(ctx, tx, product, receivedDate)
	if err != nil {
		return nil, err
	}

	refType := input.ReferenceType
	if refType == "" {
		refType = models.TransactionReferenceTypeSupplierReceipt
	}

	lot := models.InventoryLot{
		ProductId:       product.ID,
		LotNumber:       lotNumber,
		InitialQuantity: input.Quantity,
		CurrentQuantity: input.Quantity,
		Status:          models.LotStatusActive,
		SupplierId:      input.SupplierId,
		UnitCost:        input.UnitCost,
		ReceivedDate:    receivedDate,
	}
	if err := tx.WithContext(ctx).Create(&lot).Error; err != nil {
		return nil, err
	}

	txn := l.newTransaction(ctx, &lot, models.TransactionDirectionIn, input.Quantity, refType, input.ReferenceId, "")
	if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

// nextLotNumber uses the redis daily counter when configured; otherwise
// it counts existing lots inside the transaction. The unique index on
// lot_number turns a lost race on the fallback into a Conflict the
// caller can retry.
func (l *LotLedger) nextLotNumber(ctx context.Context, tx *gorm.DB, product *models.Product, day time.Time) (string, error) {
	if l.redis != nil && l.redis.Client != nil {
		key := fmt.Sprintf("lotSeq:%d:%s", product.ID, day.Format("20060102"))
		seq, err := l.redis.NextCounter(ctx, key)
		if err == nil && seq > 0 {
			return models.FormatLotNumber(product.Code, day, int(seq)), nil
		}
	}
	seq, err := models.NextLotSequence(ctx, tx, product.ID, day)
	if err != nil {
		return "", err
	}
	return models.FormatLotNumber(product.Code, day, seq), nil
}

// PreviewAllocation is the read-only FIFO walk: it reports which lots a
// consume of this quantity would draw from, without mutating anything.
func (l *LotLedger) PreviewAllocation(ctx context.Context, productId int, quantity decimal.Decimal) ([]LotAllocation, error) {
	if !quantity.IsPositive() {
		return nil, utils.ValidationError("allocation quantity must be positive")
	}
	if err := utils.ValidateResourceId[models.Product](ctx, l.db, productId); err != nil {
		return nil, utils.NotFoundError("product %d not found", productId)
	}
	lots, err := models.ActiveLotsFIFO(ctx, l.db, productId, false)
	if err != nil {
		return nil, err
	}
	plan, remaining := planAllocation(lots, quantity)
	if remaining.IsPositive() {
		return nil, utils.InsufficientStockError("product %d short by %s", productId, remaining.String())
	}
	return plan, nil
}

// Consume is the mutating equivalent of PreviewAllocation, executed as
// one atomic transaction: each selected lot is decremented and one OUT
// transaction is appended per lot touched. If total stock is
// insufficient, no lot is mutated and nothing is written.
func (l *LotLedger) Consume(ctx context.Context, productId int, quantity decimal.Decimal, opts ConsumeOptions) ([]LotAllocation, error) {
	release, err := l.obtainProductLock(ctx, productId)
	if err != nil {
		return nil, err
	}
	defer release()

	var plan []LotAllocation
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		plan, txErr = l.ConsumeInTx(ctx, tx, productId, quantity, opts)
		return txErr
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return plan, nil
}

// ConsumeInTx runs the consume inside the caller's transaction so a
// larger flow (work order production) can make it part of one atomic
// unit. Lots are locked FOR UPDATE in FIFO order before planning, so
// two concurrent consumers cannot both see the same stock as free.
func (l *LotLedger) ConsumeInTx(ctx context.Context, tx *gorm.DB, productId int, quantity decimal.Decimal, opts ConsumeOptions) ([]LotAllocation, error) {
	if !quantity.IsPositive() {
		return nil, utils.ValidationError("consume quantity must be positive")
	}
	if err := utils.ValidateResourceId[models.Product](ctx, tx, productId); err != nil {
		return nil, utils.NotFoundError("product %d not found", productId)
	}

	var lots []*models.InventoryLot
	if opts.ManualLotId != nil {
		if opts.Reason == "" {
			return nil, utils.ValidationError("manual lot selection requires a reason")
		}
		lot, err := models.LockLot(ctx, tx, *opts.ManualLotId)
		if err != nil {
			return nil, err
		}
		if lot.ProductId != productId {
			return nil, utils.ValidationError("lot %s does not belong to product %d", lot.LotNumber, productId)
		}
		if lot.Status != models.LotStatusActive {
			return nil, utils.ValidationError("lot %s is not active", lot.LotNumber)
		}
		lots = []*models.InventoryLot{lot}
	} else {
		var err error
		lots, err = models.ActiveLotsFIFO(ctx, tx, productId, true)
		if err != nil {
			return nil, err
		}
	}

	plan, remaining := planAllocation(lots, quantity)
	if remaining.IsPositive() {
		return nil, utils.InsufficientStockError("product %d short by %s", productId, remaining.String())
	}

	for _, alloc := range plan {
		newQty := alloc.Lot.CurrentQuantity.Sub(alloc.Quantity)
		if err := tx.WithContext(ctx).Model(alloc.Lot).
			Update("current_quantity", newQty).Error; err != nil {
			return nil, err
		}
		alloc.Lot.CurrentQuantity = newQty

		txn := l.newTransaction(ctx, alloc.Lot, models.TransactionDirectionOut, alloc.Quantity, opts.ReferenceType, opts.ReferenceId, opts.Reason)
		if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// ReceiveInTx exposes the receive path to the production orchestrator
// so output-lot creation joins the work order's transaction.
func (l *LotLedger) ReceiveInTx(ctx context.Context, tx *gorm.DB, input *ReceiveInput) (*models.InventoryLot, error) {
	return l.receiveInTx(ctx, tx, input)
}

// Adjust sets current_quantity directly and writes one ADJUST
// transaction whose quantity is |new - old|. Corrections only; never
// part of production flow.
func (l *LotLedger) Adjust(ctx context.Context, lotId int, newQuantity decimal.Decimal, reason string) (*models.InventoryLot, error) {
	if reason == "" {
		return nil, utils.ValidationError("adjustment requires a reason")
	}
	if newQuantity.IsNegative() {
		return nil, utils.ValidationError("adjusted quantity cannot be negative")
	}

	var lot *models.InventoryLot
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		lot, txErr = models.LockLot(ctx, tx, lotId)
		if txErr != nil {
			return txErr
		}
		if newQuantity.GreaterThan(lot.InitialQuantity) {
			return utils.ValidationError("adjusted quantity cannot exceed initial quantity of lot %s", lot.LotNumber)
		}

		delta := newQuantity.Sub(lot.CurrentQuantity).Abs()
		if txErr = tx.WithContext(ctx).Model(lot).
			Update("current_quantity", newQuantity).Error; txErr != nil {
			return txErr
		}
		lot.CurrentQuantity = newQuantity

		txn := l.newTransaction(ctx, lot, models.TransactionDirectionAdjust, delta, models.TransactionReferenceTypeManualAdjustment, 0, reason)
		return tx.WithContext(ctx).Create(txn).Error
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return lot, nil
}

// AvailableQuantity sums current_quantity across active lots with
// stock; the BOM resolver uses it for shortage checks.
func (l *LotLedger) AvailableQuantity(ctx context.Context, productId int) (decimal.Decimal, error) {
	return availableQuantityIn(ctx, l.db, productId)
}

func availableQuantityIn(ctx context.Context, db *gorm.DB, productId int) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := db.WithContext(ctx).Model(&models.InventoryLot{}).
		Select("COALESCE(SUM(current_quantity), 0)").
		Where("product_id = ? AND status = ? AND current_quantity > 0", productId, models.LotStatusActive).
		Scan(&available).Error
	if err != nil {
		return decimal.Zero, err
	}
	return available, nil
}

// BlockLot takes an active lot out of FIFO circulation.
func (l *LotLedger) BlockLot(ctx context.Context, lotId int, reason string) error {
	return l.transitionLotStatus(ctx, lotId, models.LotStatusActive, models.LotStatusBlocked, reason)
}

// UnblockLot returns a blocked lot to circulation.
func (l *LotLedger) UnblockLot(ctx context.Context, lotId int) error {
	return l.transitionLotStatus(ctx, lotId, models.LotStatusBlocked, models.LotStatusActive, "")
}

// MarkScrap retires a lot permanently. The row stays for its history.
func (l *LotLedger) MarkScrap(ctx context.Context, lotId int, reason string) error {
	if reason == "" {
		return utils.ValidationError("scrapping a lot requires a reason")
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lot, txErr := models.LockLot(ctx, tx, lotId)
		if txErr != nil {
			return txErr
		}
		if lot.Status == models.LotStatusScrap {
			return utils.ValidationError("lot %s is already scrapped", lot.LotNumber)
		}
		return tx.WithContext(ctx).Model(lot).Update("status", models.LotStatusScrap).Error
	})
	return utils.TranslateDBError(err)
}

func (l *LotLedger) transitionLotStatus(ctx context.Context, lotId int, from, to models.LotStatus, reason string) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lot, txErr := models.LockLot(ctx, tx, lotId)
		if txErr != nil {
			return txErr
		}
		if lot.Status != from {
			return utils.ValidationError("lot %s is %s, expected %s", lot.LotNumber, lot.Status, from)
		}
		if txErr = tx.WithContext(ctx).Model(lot).Update("status", to).Error; txErr != nil {
			return txErr
		}
		userName, _ := utils.GetUserNameFromContext(ctx)
		l.logger.WithFields(logrus.Fields{
			"lotId":  lotId,
			"from":   from,
			"to":     to,
			"reason": reason,
			"user":   userName,
		}).Info("lot status changed")
		return nil
	})
	return utils.TranslateDBError(err)
}

// Transactions returns the movement log for a product, read-only.
func (l *LotLedger) Transactions(ctx context.Context, productId int) ([]*models.InventoryTransaction, error) {
	return models.TransactionsForProduct(ctx, l.db, productId)
}

// LotTransactions returns the movement log for one lot, read-only.
func (l *LotLedger) LotTransactions(ctx context.Context, lotId int) ([]*models.InventoryTransaction, error) {
	return models.TransactionsForLot(ctx, l.db, lotId)
}

// obtainProductLock takes the advisory per-product lock when a locker
// is configured. Row locks remain the correctness backstop; this just
// shrinks the deadlock-retry window under contention.
func (l *LotLedger) obtainProductLock(ctx context.Context, productId int) (func(), error) {
	var locker *redislock.Client
	if l.redis != nil {
		locker = l.redis.Locker
	}
	release, err := utils.ObtainLock(ctx, locker, fmt.Sprintf("productStock:%d", productId), 30*time.Second)
	if err != nil {
		config.LogError(l.logger, lotLedgerModule, "obtainProductLock", "could not obtain product lock", productId, err)
		return nil, err
	}
	return release, nil
}

func (l *LotLedger) newTransaction(ctx context.Context, lot *models.InventoryLot, direction models.TransactionDirection, quantity decimal.Decimal, refType models.TransactionReferenceType, refId int, reason string) *models.InventoryTransaction {
	userId, _ := utils.GetUserIdFromContext(ctx)
	return &models.InventoryTransaction{
		LotId:         lot.ID,
		ProductId:     lot.ProductId,
		Direction:     direction,
		Quantity:      quantity,
		ReferenceType: refType,
		ReferenceId:   refId,
		Reason:        reason,
		UserId:        userId,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
