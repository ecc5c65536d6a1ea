package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/models"
	"github.com/shopspring/decimal"
)

func TestLotQuantityInvariant(t *testing.T) {
	lot := models.InventoryLot{
		LotNumber:       "GEAR-20260301-1",
		InitialQuantity: decimal.NewFromInt(100),
		CurrentQuantity: decimal.NewFromInt(100),
	}
	if err := lot.BeforeSave(nil); err != nil {
		t.Fatalf("full lot should save: %v", err)
	}

	lot.CurrentQuantity = decimal.NewFromInt(-1)
	if err := lot.BeforeSave(nil); err == nil {
		t.Fatalf("negative current quantity should be rejected")
	}

	lot.CurrentQuantity = decimal.NewFromInt(101)
	if err := lot.BeforeSave(nil); err == nil {
		t.Fatalf("current above initial should be rejected")
	}

	lot.CurrentQuantity = decimal.Zero
	if err := lot.BeforeSave(nil); err != nil {
		t.Fatalf("empty lot should save: %v", err)
	}
}

func TestFormatLotNumber(t *testing.T) {
	day := time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)
	if got := models.FormatLotNumber("GEAR-01", day, 3); got != "GEAR-01-20260309-3" {
		t.Fatalf("lot number: got %q", got)
	}
}

func TestSignedQuantity(t *testing.T) {
	in := models.InventoryTransaction{Direction: models.TransactionDirectionIn, Quantity: decimal.NewFromInt(10)}
	if got := in.SignedQuantity(); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("IN signed: got %s", got)
	}

	out := models.InventoryTransaction{Direction: models.TransactionDirectionOut, Quantity: decimal.NewFromInt(4)}
	if got := out.SignedQuantity(); !got.Equal(decimal.NewFromInt(-4)) {
		t.Fatalf("OUT signed: got %s", got)
	}

	adjust := models.InventoryTransaction{Direction: models.TransactionDirectionAdjust, Quantity: decimal.NewFromInt(6)}
	if got := adjust.SignedQuantity(); !got.IsZero() {
		t.Fatalf("ADJUST signed: got %s", got)
	}
}

func TestScrapFactor(t *testing.T) {
	b := models.BOMItem{ScrapRate: decimal.RequireFromString("12.5")}
	if got := b.ScrapFactor(); !got.Equal(decimal.RequireFromString("1.125")) {
		t.Fatalf("scrap factor: got %s", got)
	}

	zero := models.BOMItem{ScrapRate: decimal.Zero}
	if got := zero.ScrapFactor(); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("zero scrap factor: got %s", got)
	}
}
