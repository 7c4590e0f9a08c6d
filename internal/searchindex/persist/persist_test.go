package persist_test

import (
	"testing"

	"github.com/kgraphd/kgraphd/internal/kgtypes"
	"github.com/kgraphd/kgraphd/internal/searchindex/persist"
)

func TestLoadAndQuery(t *testing.T) {
	m, err := persist.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = m.Close() }()

	entities := []*kgtypes.Entity{
		{Name: "Alice", EntityType: "Person", Observations: []string{"Lives in NYC"}, CreatedAt: 100, UpdatedAt: 100},
		{Name: "Bob", EntityType: "Person", CreatedAt: 100, UpdatedAt: 100},
	}
	relations := []*kgtypes.Relation{
		{From: "Alice", To: "Bob", RelationType: "knows", CreatedAt: 100},
	}

	if err := m.Load(entities, relations); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cols, rows, err := m.Query("SELECT name, entity_type FROM entities ORDER BY name")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(cols) != 2 || cols[0] != "name" || cols[1] != "entity_type" {
		t.Fatalf("unexpected columns: %v", cols)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if got, ok := rows[0][0].(string); !ok || got != "Alice" {
		t.Fatalf("first row name = %v, want Alice", rows[0][0])
	}

	_, relRows, err := m.Query("SELECT from_name, to_name, relation_type FROM relations")
	if err != nil {
		t.Fatalf("Query relations: %v", err)
	}
	if len(relRows) != 1 {
		t.Fatalf("got %d relation rows, want 1", len(relRows))
	}

	_, obsRows, err := m.Query("SELECT content FROM observations WHERE entity_name = 'Alice'")
	if err != nil {
		t.Fatalf("Query observations: %v", err)
	}
	if len(obsRows) != 1 {
		t.Fatalf("got %d observation rows, want 1", len(obsRows))
	}
}

func TestLoadReplacesPriorContents(t *testing.T) {
	m, err := persist.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = m.Close() }()

	first := []*kgtypes.Entity{{Name: "Alice", EntityType: "Person", CreatedAt: 1, UpdatedAt: 1}}
	if err := m.Load(first, nil); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	second := []*kgtypes.Entity{{Name: "Bob", EntityType: "Person", CreatedAt: 1, UpdatedAt: 1}}
	if err := m.Load(second, nil); err != nil {
		t.Fatalf("second Load: %v", err)
	}

	_, rows, err := m.Query("SELECT name FROM entities")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows after reload, want 1 (stale row not cleared)", len(rows))
	}
}
