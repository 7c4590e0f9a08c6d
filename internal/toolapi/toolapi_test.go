package toolapi_test

import (
	"errors"
	"testing"

	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/toolapi"
)

func openAPI(t *testing.T) *toolapi.API {
	t.Helper()
	k, err := kb.Open(kb.Config{
		DataDir:       t.TempDir(),
		EventSourcing: true,
		DefaultUser:   "tester",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return toolapi.New(k, "tester")
}

// TestS1CreateReadRoundTrip mirrors spec scenario S1.
func TestS1CreateReadRoundTrip(t *testing.T) {
	api := openAPI(t)

	res, err := api.CreateEntities([]toolapi.EntityArg{
		{Name: "Alice", EntityType: "person", Observations: []string{"Lives in NYC"}},
		{Name: "Bob", EntityType: "person"},
	})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(res.Created))
	}

	graph := api.ReadGraph(0, 0)
	if len(graph.Entities) != 2 {
		t.Fatalf("expected 2 entities in graph, got %d", len(graph.Entities))
	}
	for _, e := range graph.Entities {
		if e.Name == "Alice" && e.CreatedAt != e.UpdatedAt {
			t.Fatalf("Alice.CreatedAt != UpdatedAt on creation")
		}
	}
}

// TestS2RelationMissingEndpointSilentlyFiltered mirrors spec scenario S2.
func TestS2RelationMissingEndpointSilentlyFiltered(t *testing.T) {
	api := openAPI(t)
	if _, err := api.CreateEntities([]toolapi.EntityArg{{Name: "Alice", EntityType: "person"}}); err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}

	res, err := api.CreateRelations([]toolapi.RelationArg{{From: "Alice", To: "Charlie", RelationType: "knows"}})
	if err != nil {
		t.Fatalf("CreateRelations: %v", err)
	}
	if len(res.Created) != 0 {
		t.Fatalf("expected 0 created relations, got %d", len(res.Created))
	}
}

func TestCreateEntitiesRejectsEmptyBatch(t *testing.T) {
	api := openAPI(t)
	if _, err := api.CreateEntities(nil); !errors.Is(err, toolapi.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestTraverseRejectsBadDirection(t *testing.T) {
	api := openAPI(t)
	_, err := api.Traverse("Alice", []toolapi.PathStepArg{{RelationType: "knows", Direction: "sideways"}}, 10)
	if !errors.Is(err, toolapi.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

// TestS6InferenceChain mirrors spec scenario S6.
func TestS6InferenceChain(t *testing.T) {
	api := openAPI(t)
	for _, name := range []string{"A", "B", "C", "D"} {
		if _, err := api.CreateEntities([]toolapi.EntityArg{{Name: name, EntityType: "concept"}}); err != nil {
			t.Fatalf("CreateEntities(%s): %v", name, err)
		}
	}
	pairs := [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}}
	for _, p := range pairs {
		if _, err := api.CreateRelations([]toolapi.RelationArg{{From: p[0], To: p[1], RelationType: "depends_on"}}); err != nil {
			t.Fatalf("CreateRelations(%v): %v", p, err)
		}
	}

	res, err := api.Infer("A", 0.5, 3)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(res.Inferences) != 2 {
		t.Fatalf("expected 2 inferences, got %d: %+v", len(res.Inferences), res.Inferences)
	}

	res2, err := api.Infer("A", 0.9, 3)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(res2.Inferences) != 1 {
		t.Fatalf("expected 1 inference at minConfidence=0.9, got %d", len(res2.Inferences))
	}
}

func TestInferClampsOutOfRangeArgs(t *testing.T) {
	api := openAPI(t)
	if _, err := api.CreateEntities([]toolapi.EntityArg{{Name: "A", EntityType: "concept"}}); err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	// Out-of-range numeric params are clamped, not rejected (spec §7).
	if _, err := api.Infer("A", 5, 99); err != nil {
		t.Fatalf("Infer with out-of-range args: %v", err)
	}
}

func TestGetCurrentTimeIsStructured(t *testing.T) {
	api := openAPI(t)
	ct := api.GetCurrentTime()
	if ct.Timestamp == 0 || ct.ISO8601 == "" || ct.Year < 2024 {
		t.Fatalf("unexpected current time: %+v", ct)
	}
}
