package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
)

func edge(id, parent, child int, qty string, scrapRate string, seq int) *models.BOMItem {
	active := true
	return &models.BOMItem{
		ID:              id,
		ParentProductId: parent,
		ChildProductId:  child,
		Quantity:        decimal.RequireFromString(qty),
		ScrapRate:       decimal.RequireFromString(scrapRate),
		SequenceOrder:   seq,
		IsActive:        &active,
	}
}

func adjacencyOf(edges ...*models.BOMItem) map[int][]*models.BOMItem {
	return models.BuildAdjacency(edges)
}

func TestExplodeAdjacencyScrapCompounding(t *testing.T) {
	// 1 -> 2 (qty 2, scrap 10%), 2 -> 3 (qty 3, scrap 0%)
	adjacency := adjacencyOf(
		edge(1, 1, 2, "2", "10", 1),
		edge(2, 2, 3, "3", "0", 1),
	)

	root, leaves, err := explodeAdjacency(adjacency, 1, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("explode: %v", err)
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(root.Children))
	}

	mid := root.Children[0]
	// required 5*2 = 10, with scrap 10 * 1.10 = 11
	if !mid.Required.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("mid required: got %s", mid.Required)
	}
	if !mid.RequiredWithScrap.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("mid required with scrap: got %s", mid.RequiredWithScrap)
	}
	// the scrap-inflated 11 seeds the next level; it is not inflated twice
	leaf := mid.Children[0]
	if !leaf.Required.Equal(decimal.NewFromInt(33)) {
		t.Fatalf("leaf required: got %s", leaf.Required)
	}
	if !leaf.RequiredWithScrap.Equal(decimal.NewFromInt(33)) {
		t.Fatalf("leaf required with scrap: got %s", leaf.RequiredWithScrap)
	}
	if leaf.Level != 2 {
		t.Fatalf("leaf level: got %d", leaf.Level)
	}

	if got := leaves.totals[3]; !got.Equal(decimal.NewFromInt(33)) {
		t.Fatalf("aggregated leaf total: got %s", got)
	}
}

func TestExplodeAdjacencyScalesLinearly(t *testing.T) {
	adjacency := adjacencyOf(
		edge(1, 1, 2, "2", "5", 1),
		edge(2, 1, 3, "4", "0", 2),
		edge(3, 2, 4, "1.5", "2.5", 1),
	)

	_, once, err := explodeAdjacency(adjacency, 1, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("explode x1: %v", err)
	}
	_, twice, err := explodeAdjacency(adjacency, 1, decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("explode x2: %v", err)
	}

	for productId, base := range once.totals {
		if got := twice.totals[productId]; !got.Equal(base.Mul(decimal.NewFromInt(2))) {
			t.Fatalf("leaf %d: expected %s, got %s", productId, base.Mul(decimal.NewFromInt(2)), got)
		}
	}
}

func TestExplodeAdjacencySumsSharedLeaves(t *testing.T) {
	// product 4 is reached through both 2 and 3 (a diamond). Both
	// contributions must sum and the diamond must not trip the cycle
	// guard.
	adjacency := adjacencyOf(
		edge(1, 1, 2, "1", "0", 1),
		edge(2, 1, 3, "1", "0", 2),
		edge(3, 2, 4, "2", "0", 1),
		edge(4, 3, 4, "5", "0", 1),
	)

	_, leaves, err := explodeAdjacency(adjacency, 1, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("explode: %v", err)
	}
	if got := leaves.totals[4]; !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("shared leaf total: expected 7, got %s", got)
	}
	if len(leaves.order) != 1 || leaves.order[0] != 4 {
		t.Fatalf("leaf order: got %v", leaves.order)
	}
}

func TestExplodeAdjacencyLeafOrderIsFirstSeen(t *testing.T) {
	adjacency := adjacencyOf(
		edge(1, 1, 5, "1", "0", 1),
		edge(2, 1, 2, "1", "0", 2),
		edge(3, 2, 3, "1", "0", 1),
	)

	_, leaves, err := explodeAdjacency(adjacency, 1, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("explode: %v", err)
	}
	if len(leaves.order) != 2 || leaves.order[0] != 5 || leaves.order[1] != 3 {
		t.Fatalf("expected leaf order [5 3], got %v", leaves.order)
	}
}

func TestExplodeAdjacencyDetectsCycle(t *testing.T) {
	adjacency := adjacencyOf(
		edge(1, 1, 2, "1", "0", 1),
		edge(2, 2, 3, "1", "0", 1),
		edge(3, 3, 1, "1", "0", 1),
	)

	_, _, err := explodeAdjacency(adjacency, 1, decimal.NewFromInt(1))
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !utils.IsKind(err, utils.ErrorKindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestAddEdgeRejectsNegativeScrapRate(t *testing.T) {
	r := &BOMResolver{}
	_, err := r.AddEdge(context.Background(), &models.NewBOMItem{
		ParentProductId: 1,
		ChildProductId:  2,
		Quantity:        decimal.NewFromInt(1),
		ScrapRate:       decimal.NewFromInt(-5),
	})
	if !utils.IsKind(err, utils.ErrorKindValidation) {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestUpdateEdgeRejectsNegativeScrapRate(t *testing.T) {
	// a negative rate would deflate requirements on every explosion
	r := &BOMResolver{}
	_, err := r.UpdateEdge(context.Background(), 1, &models.NewBOMItem{
		ParentProductId: 1,
		ChildProductId:  2,
		Quantity:        decimal.NewFromInt(1),
		ScrapRate:       decimal.RequireFromString("-0.01"),
	})
	if !utils.IsKind(err, utils.ErrorKindValidation) {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestIsReachable(t *testing.T) {
	adjacency := adjacencyOf(
		edge(1, 1, 2, "1", "0", 1),
		edge(2, 2, 3, "1", "0", 1),
		edge(3, 4, 5, "1", "0", 1),
	)

	cases := []struct {
		name          string
		start, target int
		want          bool
	}{
		{"direct child", 1, 2, true},
		{"transitive", 1, 3, true},
		{"self", 3, 3, true},
		{"reverse direction", 3, 1, false},
		{"disconnected", 1, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isReachable(adjacency, tc.start, tc.target); got != tc.want {
				t.Fatalf("isReachable(%d, %d) = %v, want %v", tc.start, tc.target, got, tc.want)
			}
		})
	}
}
