package searchindex_test

import (
	"testing"

	"github.com/kgraphd/kgraphd/internal/kgtypes"
	"github.com/kgraphd/kgraphd/internal/searchindex"
)

func TestIndexAndLookupConsistency(t *testing.T) {
	idx := searchindex.New()
	alice := &kgtypes.Entity{
		Name:         "Alice",
		EntityType:   "Person",
		Observations: []string{"Software developer working on backend"},
	}
	idx.IndexEntity(alice)

	got, ok := idx.GetEntity("Alice")
	if !ok || got != alice {
		t.Fatalf("GetEntity(Alice) = %v, %v", got, ok)
	}

	names := idx.GetByType("person")
	if len(names) != 1 || names[0] != "Alice" {
		t.Fatalf("GetByType(person) = %v, want [Alice]", names)
	}

	hits := idx.Lookup("backend")
	if len(hits) != 1 || hits[0] != "Alice" {
		t.Fatalf("Lookup(backend) = %v, want [Alice]", hits)
	}
}

func TestSearchCandidatesSynonymExpansion(t *testing.T) {
	idx := searchindex.New()
	idx.IndexEntity(&kgtypes.Entity{
		Name:         "Alice",
		EntityType:   "Person",
		Observations: []string{"Software developer working on backend"},
	})

	for _, query := range []string{"coder", "programmer", "developer"} {
		hits := idx.SearchCandidates(query)
		if len(hits) != 1 || hits[0] != "Alice" {
			t.Fatalf("SearchCandidates(%q) = %v, want [Alice]", query, hits)
		}
	}
}

func TestRemoveEntityClearsAllStructures(t *testing.T) {
	idx := searchindex.New()
	e := &kgtypes.Entity{Name: "Bob", EntityType: "Person", Observations: []string{"Likes hiking"}}
	idx.IndexEntity(e)
	idx.RemoveEntity("Bob")

	if _, ok := idx.GetEntity("Bob"); ok {
		t.Fatal("GetEntity(Bob) still present after removal")
	}
	if names := idx.GetByType("person"); len(names) != 0 {
		t.Fatalf("GetByType(person) = %v, want empty", names)
	}
	if hits := idx.Lookup("hiking"); len(hits) != 0 {
		t.Fatalf("Lookup(hiking) = %v, want empty", hits)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", idx.Len())
	}
}

func TestUpdateEntityDropsStaleTokens(t *testing.T) {
	idx := searchindex.New()
	e := &kgtypes.Entity{Name: "Carol", EntityType: "Person", Observations: []string{"Likes skiing"}}
	idx.IndexEntity(e)

	updated := &kgtypes.Entity{Name: "Carol", EntityType: "Person", Observations: []string{"Likes surfing"}}
	idx.UpdateEntity(updated)

	if hits := idx.Lookup("skiing"); len(hits) != 0 {
		t.Fatalf("Lookup(skiing) after update = %v, want empty", hits)
	}
	if hits := idx.Lookup("surfing"); len(hits) != 1 {
		t.Fatalf("Lookup(surfing) after update = %v, want [Carol]", hits)
	}
}

func TestLookupSubstringFallback(t *testing.T) {
	idx := searchindex.New()
	idx.IndexEntity(&kgtypes.Entity{Name: "Project Phoenix", EntityType: "Project", Observations: nil})

	hits := idx.Lookup("phoen")
	if len(hits) != 1 || hits[0] != "Project Phoenix" {
		t.Fatalf("Lookup(phoen) = %v, want [Project Phoenix]", hits)
	}
}
