package eventstore_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/kgraphd/kgraphd/internal/eventstore"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

func TestCreateAndAppendAssignsMonotonicIDs(t *testing.T) {
	dir := t.TempDir()
	st, err := eventstore.Open(filepath.Join(dir, "events.jsonl"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i, name := range []string{"Alice", "Bob", "Carol"} {
		data := kgtypes.EntityCreatedData{Name: name, EntityType: "person"}
		rec, err := st.CreateAndAppend(kgtypes.EventEntityCreated, "tester", "", "test", data)
		if err != nil {
			t.Fatalf("CreateAndAppend(%s): %v", name, err)
		}
		if want := uint64(i + 1); rec.EventID != want {
			t.Fatalf("EventID = %d, want %d", rec.EventID, want)
		}
	}

	recs, err := st.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len(recs) = %d, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].EventID >= recs[i].EventID {
			t.Fatalf("events out of order at index %d: %d >= %d", i, recs[i-1].EventID, recs[i].EventID)
		}
	}
}

func TestAppendRejectsOutOfOrderID(t *testing.T) {
	dir := t.TempDir()
	st, err := eventstore.Open(filepath.Join(dir, "events.jsonl"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec := &kgtypes.Record{EventID: 5, EventType: kgtypes.EventEntityCreated, Data: []byte(`{}`)}
	if err := st.Append(rec); err == nil {
		t.Fatal("Append with out-of-order id: want error, got nil")
	}
}

func TestLoadAfterFiltersByID(t *testing.T) {
	dir := t.TempDir()
	st, err := eventstore.Open(filepath.Join(dir, "events.jsonl"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, name := range []string{"A", "B", "C", "D"} {
		if _, err := st.CreateAndAppend(kgtypes.EventEntityCreated, "tester", "", "test",
			kgtypes.EntityCreatedData{Name: name, EntityType: "person"}); err != nil {
			t.Fatalf("CreateAndAppend(%s): %v", name, err)
		}
	}

	recs, err := st.LoadAfter(2)
	if err != nil {
		t.Fatalf("LoadAfter: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].EventID != 3 || recs[1].EventID != 4 {
		t.Fatalf("unexpected ids: %d, %d", recs[0].EventID, recs[1].EventID)
	}
}

func TestShouldSnapshotAtThreshold(t *testing.T) {
	dir := t.TempDir()
	st, err := eventstore.Open(filepath.Join(dir, "events.jsonl"), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st.ShouldSnapshot() {
		t.Fatal("ShouldSnapshot true before any events")
	}
	if _, err := st.CreateAndAppend(kgtypes.EventEntityCreated, "tester", "", "test",
		kgtypes.EntityCreatedData{Name: "A", EntityType: "person"}); err != nil {
		t.Fatalf("CreateAndAppend: %v", err)
	}
	if st.ShouldSnapshot() {
		t.Fatal("ShouldSnapshot true after 1 of 2")
	}
	if _, err := st.CreateAndAppend(kgtypes.EventEntityCreated, "tester", "", "test",
		kgtypes.EntityCreatedData{Name: "B", EntityType: "person"}); err != nil {
		t.Fatalf("CreateAndAppend: %v", err)
	}
	if !st.ShouldSnapshot() {
		t.Fatal("ShouldSnapshot false after reaching threshold")
	}

	st.ResetCounters(2)
	if st.ShouldSnapshot() {
		t.Fatal("ShouldSnapshot true right after ResetCounters")
	}
	if st.NextEventID() != 3 {
		t.Fatalf("NextEventID = %d, want 3", st.NextEventID())
	}
}

func TestApplyEventEntityCreatedIdempotent(t *testing.T) {
	entities := map[string]*kgtypes.Entity{}
	relations := map[kgtypes.RelationKey]*kgtypes.Relation{}

	data, _ := json.Marshal(kgtypes.EntityCreatedData{Name: "Alice", EntityType: "person", Observations: []string{"hi"}})
	rec := &kgtypes.Record{EventID: 1, EventType: kgtypes.EventEntityCreated, Timestamp: 100, User: "u", Data: data}

	if err := eventstore.ApplyEvent(entities, relations, rec); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if err := eventstore.ApplyEvent(entities, relations, rec); err != nil {
		t.Fatalf("ApplyEvent (replay): %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("len(entities) = %d, want 1", len(entities))
	}
	if len(entities["Alice"].Observations) != 1 {
		t.Fatalf("observations duplicated on replay: %v", entities["Alice"].Observations)
	}
}

func TestApplyEventEntityDeletedCascadesRelations(t *testing.T) {
	entities := map[string]*kgtypes.Entity{
		"Alice": {Name: "Alice", EntityType: "person"},
		"Bob":   {Name: "Bob", EntityType: "person"},
	}
	relations := map[kgtypes.RelationKey]*kgtypes.Relation{
		{From: "Alice", To: "Bob", RelationType: "knows"}: {From: "Alice", To: "Bob", RelationType: "knows"},
	}

	data, _ := json.Marshal(kgtypes.EntityDeletedData{Name: "Alice"})
	rec := &kgtypes.Record{EventID: 2, EventType: kgtypes.EventEntityDeleted, Data: data}
	if err := eventstore.ApplyEvent(entities, relations, rec); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if _, ok := entities["Alice"]; ok {
		t.Fatal("Alice still present after deletion")
	}
	if len(relations) != 0 {
		t.Fatalf("relations not cascaded: %v", relations)
	}
}
