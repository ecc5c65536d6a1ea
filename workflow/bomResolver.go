package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const bomResolverModule = "bomResolver"

// BOMResolver owns the recipe DAG: single-level lookups, full
// explosions with scrap compounding, and the cycle checks that keep
// the active edge set acyclic.
type BOMResolver struct {
	db     *gorm.DB
	logger *logrus.Logger
	ledger *LotLedger
}

func NewBOMResolver(db *gorm.DB, logger *logrus.Logger, ledger *LotLedger) *BOMResolver {
	return &BOMResolver{db: db, logger: logger, ledger: ledger}
}

// BOMTreeNode is one exploded recipe position. CumulativeQuantity is
// the scrap-inflated requirement that seeds this node's own children.
type BOMTreeNode struct {
	Edge               *models.BOMItem `json:"edge"`
	ProductId          int             `json:"product_id"`
	Level              int             `json:"level"`
	Required           decimal.Decimal `json:"required"`
	RequiredWithScrap  decimal.Decimal `json:"required_with_scrap"`
	CumulativeQuantity decimal.Decimal `json:"cumulative_quantity"`
	Children           []*BOMTreeNode  `json:"children,omitempty"`
}

// LeafRequirement is one aggregated leaf material of an explosion,
// with availability and shortage from the lot ledger.
type LeafRequirement struct {
	ProductId         int             `json:"product_id"`
	RequiredWithScrap decimal.Decimal `json:"required_with_scrap"`
	Available         decimal.Decimal `json:"available"`
	Shortage          decimal.Decimal `json:"shortage"`
}

// RequirementsResult carries the full level-tagged tree plus the
// aggregated leaf view used by shortage checks.
type RequirementsResult struct {
	Root   *BOMTreeNode       `json:"root"`
	Leaves []*LeafRequirement `json:"leaves"`
}

// GetChildren returns the active one-level recipe of a product, ordered
// by sequence.
func (r *BOMResolver) GetChildren(ctx context.Context, productId int) ([]*models.BOMItem, error) {
	if err := utils.ValidateResourceId[models.Product](ctx, r.db, productId); err != nil {
		return nil, utils.NotFoundError("product %d not found", productId)
	}
	return models.ActiveChildEdges(ctx, r.db, productId)
}

// ExplodeTree traverses all descendants of a product, carrying
// cumulative quantities. The traversal tracks the products on the
// current branch and reports Conflict when an edge would revisit one:
// soft-deleted edges can reintroduce latent cycles that the
// edge-creation check never saw.
func (r *BOMResolver) ExplodeTree(ctx context.Context, productId int) (*BOMTreeNode, error) {
	result, err := r.ExplodeRequirements(ctx, productId, decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	return result.Root, nil
}

// ExplodeRequirements explodes the recipe for the given build quantity.
// Per node: required = parentCumulative * edge.quantity and
// requiredWithScrap = required * (1 + scrapRate/100). The scrap-inflated
// value seeds the node's children and is never re-inflated at its own
// level. Leaves reached via multiple branches are summed, then checked
// against ledger availability.
func (r *BOMResolver) ExplodeRequirements(ctx context.Context, productId int, quantity decimal.Decimal) (*RequirementsResult, error) {
	if !quantity.IsPositive() {
		return nil, utils.ValidationError("explosion quantity must be positive")
	}
	if err := utils.ValidateResourceId[models.Product](ctx, r.db, productId); err != nil {
		return nil, utils.NotFoundError("product %d not found", productId)
	}

	edges, err := models.AllActiveEdges(ctx, r.db)
	if err != nil {
		return nil, err
	}
	adjacency := models.BuildAdjacency(edges)

	root, leafTotals, err := explodeAdjacency(adjacency, productId, quantity)
	if err != nil {
		return nil, err
	}

	leaves := make([]*LeafRequirement, 0, len(leafTotals.order))
	for _, leafProductId := range leafTotals.order {
		required := leafTotals.totals[leafProductId]
		available, err := r.ledger.AvailableQuantity(ctx, leafProductId)
		if err != nil {
			config.LogError(r.logger, bomResolverModule, "ExplodeRequirements", "availability lookup failed", leafProductId, err)
			return nil, err
		}
		shortage := required.Sub(available)
		if shortage.IsNegative() {
			shortage = decimal.Zero
		}
		leaves = append(leaves, &LeafRequirement{
			ProductId:         leafProductId,
			RequiredWithScrap: required,
			Available:         available,
			Shortage:          shortage,
		})
	}

	return &RequirementsResult{Root: root, Leaves: leaves}, nil
}

// leafAccumulator sums leaf requirements per product while preserving
// first-seen order so explosion output is deterministic.
type leafAccumulator struct {
	totals map[int]decimal.Decimal
	order  []int
}

func newLeafAccumulator() *leafAccumulator {
	return &leafAccumulator{totals: make(map[int]decimal.Decimal)}
}

func (a *leafAccumulator) add(productId int, quantity decimal.Decimal) {
	if _, seen := a.totals[productId]; !seen {
		a.order = append(a.order, productId)
	}
	a.totals[productId] = a.totals[productId].Add(quantity)
}

// explodeAdjacency is the pure depth-first explosion over a snapshot of
// the active edge set. path holds the product ids on the current branch
// for the run-time cycle guard.
func explodeAdjacency(adjacency map[int][]*models.BOMItem, rootProductId int, quantity decimal.Decimal) (*BOMTreeNode, *leafAccumulator, error) {
	root := &BOMTreeNode{
		ProductId:          rootProductId,
		Level:              0,
		Required:           quantity,
		RequiredWithScrap:  quantity,
		CumulativeQuantity: quantity,
	}
	leaves := newLeafAccumulator()
	path := map[int]bool{rootProductId: true}
	if err := explodeNode(adjacency, root, path, leaves); err != nil {
		return nil, nil, err
	}
	return root, leaves, nil
}

func explodeNode(adjacency map[int][]*models.BOMItem, node *BOMTreeNode, path map[int]bool, leaves *leafAccumulator) error {
	children := adjacency[node.ProductId]
	if len(children) == 0 {
		if node.Level > 0 {
			leaves.add(node.ProductId, node.RequiredWithScrap)
		}
		return nil
	}
	for _, edge := range children {
		if path[edge.ChildProductId] {
			return utils.ConflictError("circular dependency: product %d already on branch via edge %d", edge.ChildProductId, edge.ID)
		}
		required := node.CumulativeQuantity.Mul(edge.Quantity)
		requiredWithScrap := required.Mul(edge.ScrapFactor())
		child := &BOMTreeNode{
			Edge:               edge,
			ProductId:          edge.ChildProductId,
			Level:              node.Level + 1,
			Required:           required,
			RequiredWithScrap:  requiredWithScrap,
			CumulativeQuantity: requiredWithScrap,
		}
		node.Children = append(node.Children, child)

		path[edge.ChildProductId] = true
		if err := explodeNode(adjacency, child, path, leaves); err != nil {
			return err
		}
		delete(path, edge.ChildProductId)
	}
	return nil
}

// isReachable reports whether target can be reached from start by
// following active edges. Used by the edge-creation cycle check.
func isReachable(adjacency map[int][]*models.BOMItem, start, target int) bool {
	if start == target {
		return true
	}
	visited := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range adjacency[current] {
			if edge.ChildProductId == target {
				return true
			}
			if !visited[edge.ChildProductId] {
				visited[edge.ChildProductId] = true
				stack = append(stack, edge.ChildProductId)
			}
		}
	}
	return false
}

// AddEdge inserts a recipe edge after rejecting anything that would
// close a cycle: if the parent is already reachable from the child the
// write is refused and nothing changes.
func (r *BOMResolver) AddEdge(ctx context.Context, input *models.NewBOMItem) (*models.BOMItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Quantity.IsPositive() {
		return nil, utils.ValidationError("edge quantity must be positive")
	}
	if input.ScrapRate.IsNegative() {
		return nil, utils.ValidationError("scrap rate cannot be negative")
	}
	if input.ParentProductId == input.ChildProductId {
		return nil, utils.ConflictError("circular dependency: product %d cannot contain itself", input.ParentProductId)
	}

	var edge *models.BOMItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.ValidateResourceId[models.Product](ctx, tx, input.ParentProductId); err != nil {
			return utils.NotFoundError("parent product %d not found", input.ParentProductId)
		}
		if err := utils.ValidateResourceId[models.Product](ctx, tx, input.ChildProductId); err != nil {
			return utils.NotFoundError("child product %d not found", input.ChildProductId)
		}

		edges, err := models.AllActiveEdges(ctx, tx)
		if err != nil {
			return err
		}
		if isReachable(models.BuildAdjacency(edges), input.ChildProductId, input.ParentProductId) {
			return utils.ConflictError("circular dependency: product %d is an ancestor of product %d", input.ChildProductId, input.ParentProductId)
		}

		active := true
		edge = &models.BOMItem{
			ParentProductId: input.ParentProductId,
			ChildProductId:  input.ChildProductId,
			Quantity:        input.Quantity,
			ScrapRate:       input.ScrapRate,
			SequenceOrder:   input.SequenceOrder,
			Level:           input.Level,
			OperationType:   input.OperationType,
			MachineType:     input.MachineType,
			CycleTimeSec:    input.CycleTimeSec,
			SetupTimeSec:    input.SetupTimeSec,
			IsActive:        &active,
		}
		return tx.WithContext(ctx).Create(edge).Error
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return edge, nil
}

// UpdateEdge edits edge attributes. Changing the parent/child pair
// re-runs the cycle check against the edge set without this edge.
func (r *BOMResolver) UpdateEdge(ctx context.Context, id int, input *models.NewBOMItem) (*models.BOMItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Quantity.IsPositive() {
		return nil, utils.ValidationError("edge quantity must be positive")
	}
	if input.ScrapRate.IsNegative() {
		return nil, utils.ValidationError("scrap rate cannot be negative")
	}
	if input.ParentProductId == input.ChildProductId {
		return nil, utils.ConflictError("circular dependency: product %d cannot contain itself", input.ParentProductId)
	}

	var edge *models.BOMItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		edge, txErr = models.GetBOMItem(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		if !edge.Activated() {
			return utils.ValidationError("edge %d is inactive", id)
		}

		if edge.ParentProductId != input.ParentProductId || edge.ChildProductId != input.ChildProductId {
			edges, err := models.AllActiveEdges(ctx, tx)
			if err != nil {
				return err
			}
			remaining := make([]*models.BOMItem, 0, len(edges))
			for _, e := range edges {
				if e.ID != id {
					remaining = append(remaining, e)
				}
			}
			if isReachable(models.BuildAdjacency(remaining), input.ChildProductId, input.ParentProductId) {
				return utils.ConflictError("circular dependency: product %d is an ancestor of product %d", input.ChildProductId, input.ParentProductId)
			}
		}

		return tx.WithContext(ctx).Model(edge).Updates(map[string]interface{}{
			"ParentProductId": input.ParentProductId,
			"ChildProductId":  input.ChildProductId,
			"Quantity":        input.Quantity,
			"ScrapRate":       input.ScrapRate,
			"SequenceOrder":   input.SequenceOrder,
			"Level":           input.Level,
			"OperationType":   input.OperationType,
			"MachineType":     input.MachineType,
			"CycleTimeSec":    input.CycleTimeSec,
			"SetupTimeSec":    input.SetupTimeSec,
		}).Error
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return edge, nil
}

// RemoveEdge soft-deletes: the row keeps its place in historical
// recipes and explosion snapshots simply stop seeing it.
func (r *BOMResolver) RemoveEdge(ctx context.Context, id int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		edge, txErr := models.GetBOMItem(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		if !edge.Activated() {
			return utils.ValidationError("edge %d is already inactive", id)
		}
		inactive := false
		return tx.WithContext(ctx).Model(edge).Update("is_active", &inactive).Error
	})
	return utils.TranslateDBError(err)
}

// CopyEdges duplicates only the directly-owned one-level edges of the
// source onto the target; it does not recurse into the source's
// children. The shallow behavior is deliberate (pending product-owner
// confirmation); see DESIGN.md.
func (r *BOMResolver) CopyEdges(ctx context.Context, fromProductId, toProductId int) ([]*models.BOMItem, error) {
	if fromProductId == toProductId {
		return nil, utils.ValidationError("cannot copy edges onto the same product")
	}

	var copied []*models.BOMItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.ValidateResourceId[models.Product](ctx, tx, fromProductId); err != nil {
			return utils.NotFoundError("source product %d not found", fromProductId)
		}
		if err := utils.ValidateResourceId[models.Product](ctx, tx, toProductId); err != nil {
			return utils.NotFoundError("target product %d not found", toProductId)
		}

		sourceEdges, err := models.ActiveChildEdges(ctx, tx, fromProductId)
		if err != nil {
			return err
		}
		allEdges, err := models.AllActiveEdges(ctx, tx)
		if err != nil {
			return err
		}
		adjacency := models.BuildAdjacency(allEdges)

		for _, source := range sourceEdges {
			if isReachable(adjacency, source.ChildProductId, toProductId) {
				return utils.ConflictError("circular dependency: copying edge to product %d would make product %d its own descendant", source.ChildProductId, toProductId)
			}
			active := true
			edge := &models.BOMItem{
				ParentProductId: toProductId,
				ChildProductId:  source.ChildProductId,
				Quantity:        source.Quantity,
				ScrapRate:       source.ScrapRate,
				SequenceOrder:   source.SequenceOrder,
				Level:           source.Level,
				OperationType:   source.OperationType,
				MachineType:     source.MachineType,
				CycleTimeSec:    source.CycleTimeSec,
				SetupTimeSec:    source.SetupTimeSec,
				IsActive:        &active,
			}
			if err := tx.WithContext(ctx).Create(edge).Error; err != nil {
				return err
			}
			copied = append(copied, edge)
		}
		return nil
	})
	if err != nil {
		return nil, utils.TranslateDBError(err)
	}
	return copied, nil
}

// WorkOrderProposal is one suggested child work order from a flat,
// single-level plan. Nothing is persisted; planning decides.
type WorkOrderProposal struct {
	OrderNumber     string          `json:"order_number"`
	ProductId       int             `json:"product_id"`
	BOMItemId       int             `json:"bom_item_id"`
	SalesOrderRef   string          `json:"sales_order_ref"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	SequenceOrder   int             `json:"sequence_order"`
}

// PlanWorkOrders proposes one work order per direct child edge with
// planned quantity = quantity * edge.quantity. Single level only; full
// multi-level planning goes through ExplodeRequirements.
func (r *BOMResolver) PlanWorkOrders(ctx context.Context, productId int, quantity decimal.Decimal, orderRef string) ([]*WorkOrderProposal, error) {
	if !quantity.IsPositive() {
		return nil, utils.ValidationError("plan quantity must be positive")
	}
	edges, err := r.GetChildren(ctx, productId)
	if err != nil {
		return nil, err
	}

	proposals := make([]*WorkOrderProposal, 0, len(edges))
	for i, edge := range edges {
		proposals = append(proposals, &WorkOrderProposal{
			OrderNumber:     fmt.Sprintf("%s-%d", orderRef, i+1),
			ProductId:       edge.ChildProductId,
			BOMItemId:       edge.ID,
			SalesOrderRef:   orderRef,
			PlannedQuantity: quantity.Mul(edge.Quantity),
			SequenceOrder:   edge.SequenceOrder,
		})
	}
	return proposals, nil
}
