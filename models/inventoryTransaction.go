package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryTransaction is the append-only movement log. Quantity is
// always a positive magnitude; Direction carries the sign. For every
// lot, initial_quantity minus the signed sum of its transactions equals
// current_quantity (cmd/inventory-recount verifies this).
type InventoryTransaction struct {
	ID            int                      `gorm:"primary_key" json:"id"`
	LotId         int                      `gorm:"index:idx_inv_txn_lot,priority:1;not null" json:"lot_id"`
	ProductId     int                      `gorm:"index;not null" json:"product_id"`
	Direction     TransactionDirection     `gorm:"size:10;not null" json:"direction"`
	Quantity      decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"quantity"`
	ReferenceType TransactionReferenceType `gorm:"size:30;not null" json:"reference_type"`
	ReferenceId   int                      `gorm:"index" json:"reference_id"`
	Reason        string                   `gorm:"type:text" json:"reason"`
	UserId        int                      `gorm:"index" json:"user_id"`
	CorrelationId string                   `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time                `gorm:"autoCreateTime;index:idx_inv_txn_lot,priority:2" json:"created_at"`
}

// SignedQuantity folds direction into a sign: IN is positive, OUT is
// negative. ADJUST rows record the correction magnitude only, so they
// contribute zero here; reconciliation treats an adjusted lot as a new
// baseline rather than replaying the correction.
func (t *InventoryTransaction) SignedQuantity() decimal.Decimal {
	switch t.Direction {
	case TransactionDirectionOut:
		return t.Quantity.Neg()
	case TransactionDirectionAdjust:
		return decimal.Zero
	}
	return t.Quantity
}

// TransactionsForLot returns the ordered movement history of one lot.
func TransactionsForLot(ctx context.Context, db *gorm.DB, lotId int) ([]*InventoryTransaction, error) {
	var txns []*InventoryTransaction
	err := db.WithContext(ctx).
		Where("lot_id = ?", lotId).
		Order("created_at ASC, id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// TransactionsForProduct returns the ordered movement history across
// all lots of one product.
func TransactionsForProduct(ctx context.Context, db *gorm.DB, productId int) ([]*InventoryTransaction, error) {
	var txns []*InventoryTransaction
	err := db.WithContext(ctx).
		Where("product_id = ?", productId).
		Order("created_at ASC, id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
