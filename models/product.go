package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
)

// Product identity and catalog attributes are owned by catalog
// management; the core only reads them (existence, kind, stock flag).
type Product struct {
	ID           int         `gorm:"primary_key" json:"id"`
	Code         string      `gorm:"uniqueIndex;size:50;not null" json:"code"`
	Name         string      `gorm:"size:100;not null" json:"name"`
	Description  string      `gorm:"type:text" json:"description"`
	Kind         ProductKind `gorm:"size:20;not null;default:RawMaterial" json:"kind"`
	StockTracked *bool       `gorm:"not null;default:true" json:"stock_tracked"`
	IsActive     *bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Code         string      `json:"code" validate:"required,max=50"`
	Name         string      `json:"name" validate:"required,max=100"`
	Description  string      `json:"description"`
	Kind         ProductKind `json:"kind" validate:"required"`
	StockTracked *bool       `json:"stock_tracked"`
}

func GetProduct(ctx context.Context, db *gorm.DB, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, db, id)
}

func (p *Product) IsStockTracked() bool {
	return p.StockTracked != nil && *p.StockTracked
}

func (p *Product) Activated() bool {
	return p.IsActive != nil && *p.IsActive
}

func CreateProduct(ctx context.Context, db *gorm.DB, input *NewProduct) (*Product, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Kind.Valid() {
		return nil, utils.ValidationError("invalid product kind %q", input.Kind)
	}

	stockTracked := true
	if input.StockTracked != nil {
		stockTracked = *input.StockTracked
	}
	product := Product{
		Code:         input.Code,
		Name:         input.Name,
		Description:  input.Description,
		Kind:         input.Kind,
		StockTracked: &stockTracked,
	}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		// unique code index makes duplicates a Conflict
		return nil, utils.TranslateDBError(err)
	}
	return &product, nil
}

// DeactivateProduct soft-deletes: catalog rows are never removed because
// lots and BOM edges keep referencing them.
func DeactivateProduct(ctx context.Context, db *gorm.DB, id int) error {
	product, err := utils.FetchModel[Product](ctx, db, id)
	if err != nil {
		return err
	}
	inactive := false
	return db.WithContext(ctx).Model(product).Update("is_active", &inactive).Error
}
