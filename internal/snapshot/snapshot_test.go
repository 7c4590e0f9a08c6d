package snapshot_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kgraphd/kgraphd/internal/kgtypes"
	"github.com/kgraphd/kgraphd/internal/snapshot"
)

func TestWriteWithBackupThenRead(t *testing.T) {
	dir := t.TempDir()
	mgr := snapshot.NewManager(dir)

	entities := []*kgtypes.Entity{
		{Name: "Alice", EntityType: "person", Observations: []string{"hi"}, CreatedAt: 1, UpdatedAt: 1},
	}
	relations := []*kgtypes.Relation{}
	meta := kgtypes.SnapshotMeta{Type: "snapshot_meta", LastEventID: 1, EntityCount: 1, RelationCount: 0, Version: 1}

	if err := mgr.WriteWithBackup(meta, entities, relations); err != nil {
		t.Fatalf("WriteWithBackup: %v", err)
	}

	gotMeta, gotEntities, gotRelations, err := mgr.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if gotMeta.LastEventID != 1 {
		t.Fatalf("LastEventID = %d, want 1", gotMeta.LastEventID)
	}
	if len(gotEntities) != 1 || gotEntities[0].Name != "Alice" {
		t.Fatalf("unexpected entities: %+v", gotEntities)
	}
	if len(gotRelations) != 0 {
		t.Fatalf("unexpected relations: %+v", gotRelations)
	}
}

func TestWriteWithBackupDemotesPrevious(t *testing.T) {
	dir := t.TempDir()
	mgr := snapshot.NewManager(dir)

	first := kgtypes.SnapshotMeta{Type: "snapshot_meta", LastEventID: 1, EntityCount: 0, RelationCount: 0, Version: 1}
	if err := mgr.WriteWithBackup(first, nil, nil); err != nil {
		t.Fatalf("first WriteWithBackup: %v", err)
	}

	second := kgtypes.SnapshotMeta{Type: "snapshot_meta", LastEventID: 2, EntityCount: 0, RelationCount: 0, Version: 1}
	if err := mgr.WriteWithBackup(second, nil, nil); err != nil {
		t.Fatalf("second WriteWithBackup: %v", err)
	}

	gotMeta, _, _, err := mgr.Read()
	if err != nil {
		t.Fatalf("Read latest: %v", err)
	}
	if gotMeta.LastEventID != 2 {
		t.Fatalf("latest LastEventID = %d, want 2", gotMeta.LastEventID)
	}

	prevMeta, _, _, err := mgr.Recover()
	if err != nil {
		t.Fatalf("Recover previous: %v", err)
	}
	if prevMeta.LastEventID != 1 {
		t.Fatalf("previous LastEventID = %d, want 1", prevMeta.LastEventID)
	}
}

func TestReadMissingSnapshotErrors(t *testing.T) {
	dir := t.TempDir()
	mgr := snapshot.NewManager(dir)
	if _, _, _, err := mgr.Read(); err == nil {
		t.Fatal("Read on missing snapshot: want error, got nil")
	}
}

func TestNoLeftoverTempFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	mgr := snapshot.NewManager(dir)
	meta := kgtypes.SnapshotMeta{Type: "snapshot_meta", LastEventID: 0, Version: 1}
	if err := mgr.WriteWithBackup(meta, nil, nil); err != nil {
		t.Fatalf("WriteWithBackup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "snapshots", "latest.jsonl.tmp")); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be gone, stat err = %v", err)
	}
}
