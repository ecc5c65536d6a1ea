package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryLot is one dated batch of one product. InitialQuantity is
// fixed at receipt; CurrentQuantity only moves through the lot ledger.
// Lots are never deleted, only status-transitioned.
type InventoryLot struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProductId       int             `gorm:"index:idx_lot_product_status,priority:1;not null" json:"product_id"`
	LotNumber       string          `gorm:"uniqueIndex;size:100;not null" json:"lot_number"`
	InitialQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"initial_quantity"`
	CurrentQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"current_quantity"`
	Status          LotStatus       `gorm:"index:idx_lot_product_status,priority:2;size:20;not null;default:Active" json:"status"`
	SupplierId      *int            `gorm:"index" json:"supplier_id"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	ReceivedDate    time.Time       `gorm:"index;not null" json:"received_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Product *Product `gorm:"foreignKey:ProductId" json:"product,omitempty"`
}

// BeforeSave enforces the lot quantity invariant. FIFO selection relies
// on 0 <= current_quantity <= initial_quantity; a row outside that range
// would silently corrupt every later allocation.
func (lot *InventoryLot) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if lot == nil {
		return nil
	}
	if lot.CurrentQuantity.IsNegative() {
		return fmt.Errorf("lot %s current quantity cannot be negative", lot.LotNumber)
	}
	if lot.CurrentQuantity.GreaterThan(lot.InitialQuantity) {
		return fmt.Errorf("lot %s current quantity cannot exceed initial quantity", lot.LotNumber)
	}
	return nil
}

func GetInventoryLot(ctx context.Context, db *gorm.DB, id int) (*InventoryLot, error) {
	return utils.FetchModel[InventoryLot](ctx, db, id)
}

// ActiveLotsFIFO returns active lots with stock for one product in FIFO
// order: received_date first, lot id as the deterministic tie-break
// among same-day receipts. When forUpdate is set the rows are locked,
// in this same order, so concurrent consumers acquire locks identically
// and cannot deadlock each other on lot rows.
func ActiveLotsFIFO(ctx context.Context, tx *gorm.DB, productId int, forUpdate bool) ([]*InventoryLot, error) {
	dbCtx := tx.WithContext(ctx).
		Where("product_id = ? AND status = ? AND current_quantity > 0", productId, LotStatusActive).
		Order("received_date ASC, id ASC")
	if forUpdate {
		dbCtx = dbCtx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var lots []*InventoryLot
	if err := dbCtx.Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// LockLot fetches one lot FOR UPDATE inside the caller's transaction.
func LockLot(ctx context.Context, tx *gorm.DB, lotId int) (*InventoryLot, error) {
	var lot InventoryLot
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&lot, lotId).Error
	if err != nil {
		return nil, utils.NotFoundError("lot %d not found", lotId)
	}
	return &lot, nil
}

// NextLotSequence counts lots already received for the product on the
// given day, inside the caller's transaction. The receive path holds
// the product's lots locked, so the count is race-free.
func NextLotSequence(ctx context.Context, tx *gorm.DB, productId int, day time.Time) (int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	var count int64
	err := tx.WithContext(ctx).Model(&InventoryLot{}).
		Where("product_id = ? AND received_date >= ? AND received_date < ?", productId, dayStart, dayEnd).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count) + 1, nil
}

// FormatLotNumber renders "<code>-<yyyymmdd>-<seq>".
func FormatLotNumber(productCode string, day time.Time, sequence int) string {
	return fmt.Sprintf("%s-%s-%d", productCode, day.Format("20060102"), sequence)
}
