// inventory-recount verifies that every lot's current quantity matches
// the signed sum of its transaction log, and optionally repairs drift.
//
// Lots that carry ADJUST rows are skipped: an adjustment records only
// the correction magnitude, so the log alone cannot reproduce the
// post-adjustment balance.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/inventory-recount [--product-id N] [--repair]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	productID := flag.Int("product-id", 0, "Optional: limit to one product")
	repair := flag.Bool("repair", false, "Rewrite current_quantity where it drifted from the transaction log")
	flag.Parse()

	ctx := context.Background()
	db := config.ConnectDatabaseWithRetry()

	query := db.WithContext(ctx).Model(&models.InventoryLot{})
	if *productID > 0 {
		query = query.Where("product_id = ?", *productID)
	}
	var lots []*models.InventoryLot
	if err := query.Order("product_id ASC, id ASC").Find(&lots).Error; err != nil {
		fmt.Fprintf(os.Stderr, "fetch lots: %v\n", err)
		os.Exit(1)
	}

	var drifted, skipped int
	for _, lot := range lots {
		txns, err := models.TransactionsForLot(ctx, db, lot.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lot %s: fetch transactions: %v\n", lot.LotNumber, err)
			os.Exit(1)
		}

		adjusted := false
		balance := decimal.Zero
		for _, txn := range txns {
			if txn.Direction == models.TransactionDirectionAdjust {
				adjusted = true
				break
			}
			balance = balance.Add(txn.SignedQuantity())
		}
		if adjusted {
			skipped++
			fmt.Printf("lot %s: skipped (has adjustments)\n", lot.LotNumber)
			continue
		}

		if balance.Equal(lot.CurrentQuantity) {
			continue
		}
		drifted++
		fmt.Printf("lot %s: current=%s expected=%s\n", lot.LotNumber, lot.CurrentQuantity, balance)

		if !*repair {
			continue
		}
		if balance.IsNegative() || balance.GreaterThan(lot.InitialQuantity) {
			fmt.Fprintf(os.Stderr, "lot %s: expected balance %s outside [0, %s], not repairing\n",
				lot.LotNumber, balance, lot.InitialQuantity)
			continue
		}
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, txErr := models.LockLot(ctx, tx, lot.ID)
			if txErr != nil {
				return txErr
			}
			return tx.WithContext(ctx).Model(locked).Update("current_quantity", balance).Error
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "lot %s: repair failed: %v\n", lot.LotNumber, err)
			os.Exit(1)
		}
		fmt.Printf("lot %s: repaired to %s\n", lot.LotNumber, balance)
	}

	fmt.Printf("recount complete: %d lots checked, %d drifted, %d skipped\n", len(lots), drifted, skipped)
	if drifted > 0 && !*repair {
		os.Exit(2)
	}
}
