package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkOrder is one production instruction. Status moves only through
// the production orchestrator; a Completed or Cancelled order is
// immutable. produced + scrap never exceeds planned.
type WorkOrder struct {
	ID               int             `gorm:"primary_key" json:"id"`
	OrderNumber      string          `gorm:"uniqueIndex;size:50;not null" json:"order_number"`
	ProductId        int             `gorm:"index;not null" json:"product_id"`
	BOMItemId        *int            `gorm:"index" json:"bom_item_id"`
	SalesOrderRef    string          `gorm:"size:50;index" json:"sales_order_ref"`
	MachineId        *int            `gorm:"index" json:"machine_id"`
	PlannedQuantity  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"planned_quantity"`
	ProducedQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"produced_quantity"`
	ScrapQuantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"scrap_quantity"`
	Status           WorkOrderStatus `gorm:"index;size:20;not null;default:Planned" json:"status"`
	Notes            string          `gorm:"type:text" json:"notes"`
	ActualStart      *time.Time      `json:"actual_start"`
	ActualEnd        *time.Time      `json:"actual_end"`
	CreatedBy        int             `gorm:"index" json:"created_by"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Product *Product `gorm:"foreignKey:ProductId" json:"product,omitempty"`
	BOMItem *BOMItem `gorm:"foreignKey:BOMItemId" json:"bom_item,omitempty"`
	Machine *Machine `gorm:"foreignKey:MachineId" json:"machine,omitempty"`
}

type NewWorkOrder struct {
	OrderNumber     string          `json:"order_number" validate:"required,max=50"`
	ProductId       int             `json:"product_id" validate:"required,gt=0"`
	BOMItemId       *int            `json:"bom_item_id"`
	SalesOrderRef   string          `json:"sales_order_ref"`
	MachineId       *int            `json:"machine_id"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	Notes           string          `json:"notes"`
}

// RemainingQuantity is what can still be reported before the order
// reaches its planned total.
func (wo *WorkOrder) RemainingQuantity() decimal.Decimal {
	return wo.PlannedQuantity.Sub(wo.ProducedQuantity).Sub(wo.ScrapQuantity)
}

func GetWorkOrder(ctx context.Context, db *gorm.DB, id int) (*WorkOrder, error) {
	return utils.FetchModel[WorkOrder](ctx, db, id)
}

// LockWorkOrder fetches the order FOR UPDATE inside the caller's
// transaction. Every state transition starts here so concurrent
// transitions on the same order serialize at the row.
func LockWorkOrder(ctx context.Context, tx *gorm.DB, id int) (*WorkOrder, error) {
	var order WorkOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, id).Error
	if err != nil {
		return nil, utils.NotFoundError("work order %d not found", id)
	}
	return &order, nil
}

// WorkOrderOperation is the append-only per-order log: one entry per
// state transition or production report.
type WorkOrderOperation struct {
	ID            int             `gorm:"primary_key" json:"id"`
	WorkOrderId   int             `gorm:"index:idx_wo_op_order_seq,priority:1;not null" json:"work_order_id"`
	Sequence      int             `gorm:"index:idx_wo_op_order_seq,priority:2;not null" json:"sequence"`
	Action        OperationAction `gorm:"size:20;not null" json:"action"`
	QuantityDelta decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_delta"`
	ScrapDelta    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"scrap_delta"`
	Notes         string          `gorm:"type:text" json:"notes"`
	UserId        int             `gorm:"index" json:"user_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// AppendWorkOrderOperation writes the next log entry inside the
// caller's transaction. The work order row is already locked, so the
// max-sequence read cannot race another writer.
func AppendWorkOrderOperation(ctx context.Context, tx *gorm.DB, op *WorkOrderOperation) error {
	var maxSeq int
	err := tx.WithContext(ctx).Model(&WorkOrderOperation{}).
		Where("work_order_id = ?", op.WorkOrderId).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return err
	}
	op.Sequence = maxSeq + 1
	return tx.WithContext(ctx).Create(op).Error
}

// OperationsForWorkOrder returns the ordered log, read-only.
func OperationsForWorkOrder(ctx context.Context, db *gorm.DB, workOrderId int) ([]*WorkOrderOperation, error) {
	var ops []*WorkOrderOperation
	err := db.WithContext(ctx).
		Where("work_order_id = ?", workOrderId).
		Order("sequence ASC").
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}
