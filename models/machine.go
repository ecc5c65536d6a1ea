package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
)

type Machine struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Code        string    `gorm:"uniqueIndex;size:50;not null" json:"code"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	MachineType string    `gorm:"size:50" json:"machine_type"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Machine) Activated() bool {
	return m.IsActive != nil && *m.IsActive
}

func GetMachine(ctx context.Context, db *gorm.DB, id int) (*Machine, error) {
	return utils.FetchModel[Machine](ctx, db, id)
}

// ValidateActiveMachine checks existence and active status in one call;
// the orchestrator uses it to gate machine assignments.
func ValidateActiveMachine(ctx context.Context, db *gorm.DB, id int) error {
	machine, err := utils.FetchModel[Machine](ctx, db, id)
	if err != nil {
		return utils.NotFoundError("machine %d not found", id)
	}
	if !machine.Activated() {
		return utils.ValidationError("machine %s is not active", machine.Code)
	}
	return nil
}
