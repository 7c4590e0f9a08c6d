package mcp

import (
	"context"
	"testing"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/toolapi"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	graph, err := kb.Open(kb.Config{
		DataDir:       t.TempDir(),
		EventSourcing: true,
		DefaultUser:   "tester",
	})
	if err != nil {
		t.Fatalf("kb.Open: %v", err)
	}
	return NewServer(graph, "tester", WithVersion("test"))
}

func TestNewServerRegistersTools(t *testing.T) {
	s := testServer(t)
	if s.server == nil {
		t.Fatal("expected underlying gomcp server to be initialized")
	}
}

func TestHandleCreateEntitiesAndReadGraph(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()

	_, out, err := s.handleCreateEntities(ctx, &gomcp.CallToolRequest{}, createEntitiesInput{
		Entities: []toolapi.EntityArg{{Name: "Alice", EntityType: "person", Observations: []string{"Lives in NYC"}}},
	})
	if err != nil {
		t.Fatalf("handleCreateEntities: %v", err)
	}
	if len(out.Created) != 1 {
		t.Fatalf("expected 1 created entity, got %d", len(out.Created))
	}

	_, readOut, err := s.handleReadGraph(ctx, &gomcp.CallToolRequest{}, readGraphInput{})
	if err != nil {
		t.Fatalf("handleReadGraph: %v", err)
	}
	if len(readOut.Entities) != 1 || readOut.Entities[0].Name != "Alice" {
		t.Fatalf("unexpected read_graph result: %+v", readOut)
	}
}

func TestHandleInferSingleHopWithOmittedArgs(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B"} {
		if _, _, err := s.handleCreateEntities(ctx, &gomcp.CallToolRequest{}, createEntitiesInput{
			Entities: []toolapi.EntityArg{{Name: name, EntityType: "concept"}},
		}); err != nil {
			t.Fatalf("handleCreateEntities(%s): %v", name, err)
		}
	}
	if _, _, err := s.handleCreateRelations(ctx, &gomcp.CallToolRequest{}, createRelationsInput{
		Relations: []toolapi.RelationArg{{From: "A", To: "B", RelationType: "depends_on"}},
	}); err != nil {
		t.Fatalf("handleCreateRelations: %v", err)
	}

	_, out, err := s.handleInfer(ctx, &gomcp.CallToolRequest{}, inferInput{EntityName: "A"})
	if err != nil {
		t.Fatalf("handleInfer: %v", err)
	}
	// A single direct hop never produces an inferred relation; inference
	// requires at least one intermediate node.
	if len(out.Inferences) != 0 {
		t.Fatalf("expected no inferences for a single hop, got %+v", out.Inferences)
	}
}
