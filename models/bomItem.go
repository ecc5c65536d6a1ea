package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BOMItem is one directed recipe edge: building one unit of the parent
// consumes Quantity units of the child, inflated by ScrapRate percent.
// Edges are soft-deleted via IsActive so historical recipes stay
// referenceable; the active edge set must remain a DAG.
type BOMItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ParentProductId int             `gorm:"index:idx_bom_parent_active,priority:1;not null" json:"parent_product_id"`
	ChildProductId  int             `gorm:"index;not null" json:"child_product_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	ScrapRate       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"scrap_rate"`
	SequenceOrder   int             `gorm:"not null;default:0" json:"sequence_order"`
	Level           int             `gorm:"not null;default:1" json:"level"`
	OperationType   OperationType   `gorm:"size:20" json:"operation_type"`
	MachineType     string          `gorm:"size:50" json:"machine_type"`
	CycleTimeSec    int             `gorm:"default:0" json:"cycle_time_sec"`
	SetupTimeSec    int             `gorm:"default:0" json:"setup_time_sec"`
	IsActive        *bool           `gorm:"index:idx_bom_parent_active,priority:2;not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Parent *Product `gorm:"foreignKey:ParentProductId" json:"parent,omitempty"`
	Child  *Product `gorm:"foreignKey:ChildProductId" json:"child,omitempty"`
}

type NewBOMItem struct {
	ParentProductId int             `json:"parent_product_id" validate:"required,gt=0"`
	ChildProductId  int             `json:"child_product_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	ScrapRate       decimal.Decimal `json:"scrap_rate"`
	SequenceOrder   int             `json:"sequence_order"`
	Level           int             `json:"level"`
	OperationType   OperationType   `json:"operation_type"`
	MachineType     string          `json:"machine_type"`
	CycleTimeSec    int             `json:"cycle_time_sec"`
	SetupTimeSec    int             `json:"setup_time_sec"`
}

func (b *BOMItem) Activated() bool {
	return b.IsActive != nil && *b.IsActive
}

// ScrapFactor is 1 + scrapRate/100 as an exact decimal.
func (b *BOMItem) ScrapFactor() decimal.Decimal {
	return decimal.NewFromInt(1).Add(b.ScrapRate.Div(decimal.NewFromInt(100)))
}

func GetBOMItem(ctx context.Context, db *gorm.DB, id int) (*BOMItem, error) {
	return utils.FetchModel[BOMItem](ctx, db, id)
}

// ActiveChildEdges returns the live one-level recipe of a parent,
// ordered by sequence.
func ActiveChildEdges(ctx context.Context, db *gorm.DB, parentProductId int) ([]*BOMItem, error) {
	var edges []*BOMItem
	err := db.WithContext(ctx).
		Where("parent_product_id = ? AND is_active = ?", parentProductId, true).
		Order("sequence_order ASC, id ASC").
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// AllActiveEdges loads the whole live edge set. Traversals operate on
// this snapshot as an adjacency map instead of issuing recursive
// queries.
func AllActiveEdges(ctx context.Context, db *gorm.DB) ([]*BOMItem, error) {
	var edges []*BOMItem
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("parent_product_id ASC, sequence_order ASC, id ASC").
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// BuildAdjacency indexes edges by parent product id, preserving the
// sequence ordering of the query that produced them.
func BuildAdjacency(edges []*BOMItem) map[int][]*BOMItem {
	adjacency := make(map[int][]*BOMItem, len(edges))
	for _, edge := range edges {
		adjacency[edge.ParentProductId] = append(adjacency[edge.ParentProductId], edge)
	}
	return adjacency
}
