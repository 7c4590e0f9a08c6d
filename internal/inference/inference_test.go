package inference_test

import (
	"testing"

	"github.com/kgraphd/kgraphd/internal/inference"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

func buildGraph() *inference.Graph {
	entities := []*kgtypes.Entity{
		{Name: "A", EntityType: "task"},
		{Name: "B", EntityType: "task"},
		{Name: "C", EntityType: "task"},
		{Name: "D", EntityType: "task"},
	}
	relations := []*kgtypes.Relation{
		{From: "A", To: "B", RelationType: "depends_on"},
		{From: "B", To: "C", RelationType: "depends_on"},
		{From: "C", To: "D", RelationType: "depends_on"},
	}
	return inference.NewGraph(entities, relations)
}

func TestTransitiveDependencyFindsMultiHopPaths(t *testing.T) {
	g := buildGraph()
	rule := inference.NewTransitiveDependencyRule(3)

	inferred, stats := rule.Apply(g, "A", 0.5, 3)

	if len(inferred) != 2 {
		t.Fatalf("len(inferred) = %d, want 2 (A->C, A->D)", len(inferred))
	}
	for _, rel := range inferred {
		if rel.From != "A" {
			t.Fatalf("From = %q, want A", rel.From)
		}
		if rel.RelationType != "inferred_depends_on" {
			t.Fatalf("RelationType = %q, want inferred_depends_on", rel.RelationType)
		}
	}
	if stats.PathsFound != 2 {
		t.Fatalf("PathsFound = %d, want 2", stats.PathsFound)
	}
}

func TestTransitiveDependencyRespectsMinConfidence(t *testing.T) {
	g := buildGraph()
	rule := inference.NewTransitiveDependencyRule(3)

	// depends_on decays at 0.95 per hop: A->C is 0.9025, A->D is ~0.857.
	inferred, _ := rule.Apply(g, "A", 0.9, 3)
	if len(inferred) != 1 {
		t.Fatalf("len(inferred) = %d, want 1 (only A->C clears 0.9)", len(inferred))
	}
	if inferred[0].To != "C" {
		t.Fatalf("To = %q, want C", inferred[0].To)
	}
}

func TestTransitiveDependencyStopsAtUnknownTarget(t *testing.T) {
	g := buildGraph()
	rule := inference.NewTransitiveDependencyRule(3)

	inferred, stats := rule.Apply(g, "Ghost", 0.5, 3)
	if len(inferred) != 0 {
		t.Fatalf("inferred for unknown target = %v, want empty", inferred)
	}
	if stats.NodesVisited != 0 {
		t.Fatalf("NodesVisited = %d, want 0", stats.NodesVisited)
	}
}

func TestTransitiveDependencyMaxDepthBounds(t *testing.T) {
	g := buildGraph()
	rule := inference.NewTransitiveDependencyRule(1)

	inferred, _ := rule.Apply(g, "A", 0.0, 1)
	if len(inferred) != 0 {
		t.Fatalf("inferred at maxDepth=1 = %v, want empty (no path length >= 3 possible)", inferred)
	}
}

func TestTransitiveDependencyNoCycleRevisit(t *testing.T) {
	entities := []*kgtypes.Entity{
		{Name: "A", EntityType: "task"},
		{Name: "B", EntityType: "task"},
	}
	relations := []*kgtypes.Relation{
		{From: "A", To: "B", RelationType: "depends_on"},
		{From: "B", To: "A", RelationType: "depends_on"},
	}
	g := inference.NewGraph(entities, relations)
	rule := inference.NewTransitiveDependencyRule(5)

	inferred, stats := rule.Apply(g, "A", 0.0, 5)
	for _, rel := range inferred {
		if rel.To == "A" {
			t.Fatalf("inferred relation back to target: %v", rel)
		}
	}
	if stats.NodesVisited > 2 {
		t.Fatalf("NodesVisited = %d, want <= 2 on a 2-cycle", stats.NodesVisited)
	}
}

func TestEngineAggregatesRuleStats(t *testing.T) {
	g := buildGraph()
	engine := inference.NewEngine()

	inferred, stats := engine.Infer(g, "A", 0.5, 3)
	if len(inferred) != 2 {
		t.Fatalf("len(inferred) = %d, want 2", len(inferred))
	}
	if stats.PathsFound != 2 {
		t.Fatalf("PathsFound = %d, want 2", stats.PathsFound)
	}
}
