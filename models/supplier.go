package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
)

// Supplier is the source of received raw-material lots. Kept minimal:
// purchasing terms and payables live outside this core.
type Supplier struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:50;not null" json:"code"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:100" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Notes     string    `gorm:"type:text" json:"notes"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Supplier) Activated() bool {
	return s.IsActive != nil && *s.IsActive
}

func GetSupplier(ctx context.Context, db *gorm.DB, id int) (*Supplier, error) {
	return utils.FetchModel[Supplier](ctx, db, id)
}

type NewSupplier struct {
	Code  string `json:"code" validate:"required,max=50"`
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=20"`
	Notes string `json:"notes"`
}

func CreateSupplier(ctx context.Context, db *gorm.DB, input *NewSupplier) (*Supplier, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	active := true
	supplier := Supplier{
		Code:     input.Code,
		Name:     input.Name,
		Email:    input.Email,
		Phone:    input.Phone,
		Notes:    input.Notes,
		IsActive: &active,
	}
	if err := db.WithContext(ctx).Create(&supplier).Error; err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return &supplier, nil
}

// ValidateActiveSupplier gates lot receipts that name a supplier.
func ValidateActiveSupplier(ctx context.Context, db *gorm.DB, id int) error {
	supplier, err := GetSupplier(ctx, db, id)
	if err != nil {
		return utils.NotFoundError("supplier %d not found", id)
	}
	if !supplier.Activated() {
		return utils.ValidationError("supplier %s is not active", supplier.Code)
	}
	return nil
}
