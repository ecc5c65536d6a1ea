package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const orchestratorModule = "productionOrchestrator"

// ProductionOrchestrator drives the work-order state machine. It is the
// only writer of work orders and their operation log; material moves
// go through the lot ledger inside the orchestrator's transaction.
type ProductionOrchestrator struct {
	db       *gorm.DB
	logger   *logrus.Logger
	redis    *config.RedisHandles
	ledger   *LotLedger
	resolver *BOMResolver
	now      func() time.Time
}

func NewProductionOrchestrator(db *gorm.DB, logger *logrus.Logger, redis *config.RedisHandles, ledger *LotLedger, resolver *BOMResolver) *ProductionOrchestrator {
	return &ProductionOrchestrator{
		db:       db,
		logger:   logger,
		redis:    redis,
		ledger:   ledger,
		resolver: resolver,
		now:      time.Now,
	}
}

// Create validates the target product and optional machine/BOM edge and
// inserts the order in Planned.
func (o *ProductionOrchestrator) Create(ctx context.Context, input *models.NewWorkOrder) (*models.WorkOrder, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.PlannedQuantity.IsPositive() {
		return nil, utils.ValidationError("planned quantity must be positive")
	}

	product, err := models.GetProduct(ctx, o.db, input.ProductId)
	if err != nil {
		return nil, utils.NotFoundError("product %d not found", input.ProductId)
	}
	if !product.Activated() {
		return nil, utils.ValidationError("product %s is not active", product.Code)
	}
	if input.MachineId != nil {
		if err := models.ValidateActiveMachine(ctx, o.db, *input.MachineId); err != nil {
			return nil, err
		}
	}
	if input.BOMItemId != nil {
		edge, err := models.GetBOMItem(ctx, o.db, *input.BOMItemId)
		if err != nil {
			return nil, utils.NotFoundError("bom edge %d not found", *input.BOMItemId)
		}
		if !edge.Activated() {
			return nil, utils.ValidationError("bom edge %d is inactive", edge.ID)
		}
		if edge.ParentProductId != input.ProductId {
			return nil, utils.ValidationError("bom edge %d builds product %d, not product %d", edge.ID, edge.ParentProductId, input.ProductId)
		}
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	order := models.WorkOrder{
		OrderNumber:     input.OrderNumber,
		ProductId:       input.ProductId,
		BOMItemId:       input.BOMItemId,
		SalesOrderRef:   input.SalesOrderRef,
		MachineId:       input.MachineId,
		PlannedQuantity: input.PlannedQuantity,
		Status:          models.WorkOrderStatusPlanned,
		Notes:           input.Notes,
		CreatedBy:       userId,
	}
	if err := o.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return &order, nil
}

// Start moves a Planned order to InProgress. When the order references
// a BOM edge, requirements for the planned quantity are exploded first
// and any shortage fails the call with the full shortage list; the
// order stays Planned.
func (o *ProductionOrchestrator) Start(ctx context.Context, id int) (*models.WorkOrder, error) {
	release, err := o.obtainOrderLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var order *models.WorkOrder
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		order, txErr = models.LockWorkOrder(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		if order.Status != models.WorkOrderStatusPlanned {
			return utils.ValidationError("work order %s is %s, expected Planned", order.OrderNumber, order.Status)
		}

		if order.BOMItemId != nil {
			result, err := o.resolver.ExplodeRequirements(ctx, order.ProductId, order.PlannedQuantity)
			if err != nil {
				return err
			}
			var shortages []string
			for _, leaf := range result.Leaves {
				if leaf.Shortage.IsPositive() {
					shortages = append(shortages, fmt.Sprintf("product %d short by %s", leaf.ProductId, leaf.Shortage.String()))
				}
			}
			if len(shortages) > 0 {
				return utils.ValidationError("insufficient materials: %s", strings.Join(shortages, "; "))
			}
		}

		startedAt := o.now()
		if err := tx.WithContext(ctx).Model(order).Updates(map[string]interface{}{
			"status":       models.WorkOrderStatusInProgress,
			"actual_start": &startedAt,
		}).Error; err != nil {
			return err
		}
		order.Status = models.WorkOrderStatusInProgress
		order.ActualStart = &startedAt

		return o.appendOperation(ctx, tx, order.ID, models.OperationActionStart, decimal.Zero, decimal.Zero, "")
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return order, nil
}

// RecordProduction applies one progress report: it consumes materials
// through the edge (FIFO), accumulates produced/scrap, creates the
// output lot for stock-tracked products, and auto-completes when the
// planned quantity is reached. All of it is one transaction; if the
// consume fails nothing else happens.
func (o *ProductionOrchestrator) RecordProduction(ctx context.Context, id int, producedDelta, scrapDelta decimal.Decimal, notes string) (*models.WorkOrder, error) {
	if producedDelta.IsNegative() || scrapDelta.IsNegative() {
		return nil, utils.ValidationError("production deltas cannot be negative")
	}
	if !producedDelta.IsPositive() && !scrapDelta.IsPositive() {
		return nil, utils.ValidationError("nothing to report")
	}

	release, err := o.obtainOrderLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var order *models.WorkOrder
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		order, txErr = models.LockWorkOrder(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		if order.Status != models.WorkOrderStatusInProgress {
			return utils.ValidationError("work order %s is %s, expected InProgress", order.OrderNumber, order.Status)
		}

		newProduced := order.ProducedQuantity.Add(producedDelta)
		newScrap := order.ScrapQuantity.Add(scrapDelta)
		if newProduced.Add(newScrap).GreaterThan(order.PlannedQuantity) {
			return utils.ValidationError("report exceeds planned quantity of work order %s by %s",
				order.OrderNumber, newProduced.Add(newScrap).Sub(order.PlannedQuantity).String())
		}

		if order.BOMItemId != nil && producedDelta.IsPositive() {
			edge, err := models.GetBOMItem(ctx, tx, *order.BOMItemId)
			if err != nil {
				return err
			}
			consumeQty := producedDelta.Mul(edge.Quantity)
			if _, err := o.ledger.ConsumeInTx(ctx, tx, edge.ChildProductId, consumeQty, ConsumeOptions{
				ReferenceType: models.TransactionReferenceTypeWorkOrder,
				ReferenceId:   order.ID,
			}); err != nil {
				return err
			}
		}

		if err := tx.WithContext(ctx).Model(order).Updates(map[string]interface{}{
			"produced_quantity": newProduced,
			"scrap_quantity":    newScrap,
		}).Error; err != nil {
			return err
		}
		order.ProducedQuantity = newProduced
		order.ScrapQuantity = newScrap

		if err := o.appendOperation(ctx, tx, order.ID, models.OperationActionProductionReport, producedDelta, scrapDelta, notes); err != nil {
			return err
		}

		if producedDelta.IsPositive() {
			product, err := models.GetProduct(ctx, tx, order.ProductId)
			if err != nil {
				return err
			}
			if product.IsStockTracked() {
				if _, err := o.ledger.ReceiveInTx(ctx, tx, &ReceiveInput{
					ProductId:     order.ProductId,
					Quantity:      producedDelta,
					ReferenceType: models.TransactionReferenceTypeProductionOutput,
					ReferenceId:   order.ID,
				}); err != nil {
					return err
				}
			}
		}

		if newProduced.Add(newScrap).GreaterThanOrEqual(order.PlannedQuantity) {
			endedAt := o.now()
			if err := tx.WithContext(ctx).Model(order).Updates(map[string]interface{}{
				"status":     models.WorkOrderStatusCompleted,
				"actual_end": &endedAt,
			}).Error; err != nil {
				return err
			}
			order.Status = models.WorkOrderStatusCompleted
			order.ActualEnd = &endedAt

			if err := o.appendOperation(ctx, tx, order.ID, models.OperationActionComplete, decimal.Zero, decimal.Zero, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return order, nil
}

// Pause suspends an InProgress order.
func (o *ProductionOrchestrator) Pause(ctx context.Context, id int, reason string) (*models.WorkOrder, error) {
	return o.transition(ctx, id, models.WorkOrderStatusInProgress, models.WorkOrderStatusPaused, models.OperationActionPause, reason)
}

// Resume returns a Paused order to InProgress.
func (o *ProductionOrchestrator) Resume(ctx context.Context, id int) (*models.WorkOrder, error) {
	return o.transition(ctx, id, models.WorkOrderStatusPaused, models.WorkOrderStatusInProgress, models.OperationActionResume, "")
}

// Cancel retires an order from any non-terminal state.
func (o *ProductionOrchestrator) Cancel(ctx context.Context, id int, reason string) (*models.WorkOrder, error) {
	release, err := o.obtainOrderLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var order *models.WorkOrder
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		order, txErr = models.LockWorkOrder(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		if order.Status == models.WorkOrderStatusCompleted {
			return utils.ValidationError("work order %s is already completed", order.OrderNumber)
		}
		if order.Status == models.WorkOrderStatusCancelled {
			return utils.ValidationError("work order %s is already cancelled", order.OrderNumber)
		}

		endedAt := o.now()
		if err := tx.WithContext(ctx).Model(order).Updates(map[string]interface{}{
			"status":     models.WorkOrderStatusCancelled,
			"actual_end": &endedAt,
		}).Error; err != nil {
			return err
		}
		order.Status = models.WorkOrderStatusCancelled
		order.ActualEnd = &endedAt

		return o.appendOperation(ctx, tx, order.ID, models.OperationActionCancel, decimal.Zero, decimal.Zero, reason)
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return order, nil
}

// Timeline returns the ordered operation log, read-only.
func (o *ProductionOrchestrator) Timeline(ctx context.Context, id int) ([]*models.WorkOrderOperation, error) {
	if err := utils.ValidateResourceId[models.WorkOrder](ctx, o.db, id); err != nil {
		return nil, utils.NotFoundError("work order %d not found", id)
	}
	return models.OperationsForWorkOrder(ctx, o.db, id)
}

func (o *ProductionOrchestrator) transition(ctx context.Context, id int, from, to models.WorkOrderStatus, action models.OperationAction, reason string) (*models.WorkOrder, error) {
	release, err := o.obtainOrderLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var order *models.WorkOrder
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		order, txErr = models.LockWorkOrder(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		if order.Status != from {
			return utils.ValidationError("work order %s is %s, expected %s", order.OrderNumber, order.Status, from)
		}
		if !order.Status.CanTransition(to) {
			return utils.ValidationError("work order %s cannot move from %s to %s", order.OrderNumber, order.Status, to)
		}

		if err := tx.WithContext(ctx).Model(order).Update("status", to).Error; err != nil {
			return err
		}
		order.Status = to

		return o.appendOperation(ctx, tx, order.ID, action, decimal.Zero, decimal.Zero, reason)
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return order, nil
}

func (o *ProductionOrchestrator) appendOperation(ctx context.Context, tx *gorm.DB, workOrderId int, action models.OperationAction, quantityDelta, scrapDelta decimal.Decimal, notes string) error {
	userId, _ := utils.GetUserIdFromContext(ctx)
	return models.AppendWorkOrderOperation(ctx, tx, &models.WorkOrderOperation{
		WorkOrderId:   workOrderId,
		Action:        action,
		QuantityDelta: quantityDelta,
		ScrapDelta:    scrapDelta,
		Notes:         notes,
		UserId:        userId,
	})
}

func (o *ProductionOrchestrator) obtainOrderLock(ctx context.Context, id int) (func(), error) {
	var locker *redislock.Client
	if o.redis != nil {
		locker = o.redis.Locker
	}
	release, err := utils.ObtainLock(ctx, locker, fmt.Sprintf("workOrder:%d", id), 30*time.Second)
	if err != nil {
		config.LogError(o.logger, orchestratorModule, "obtainOrderLock", "could not obtain work order lock", id, err)
		return nil, err
	}
	return release, nil
}
