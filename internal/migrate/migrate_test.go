package migrate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/migrate"
)

func writeLegacyFile(t *testing.T, path string) {
	t.Helper()
	content := `{"name":"Alice","entityType":"person","observations":["likes tea"],"createdAt":1,"updatedAt":1}
{"name":"Bob","entityType":"person","observations":[],"createdAt":1,"updatedAt":1}
{"from":"Alice","to":"Bob","relationType":"knows","createdAt":1}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestNeedsMigrationTrueOnlyWhenNothingElseExists(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "memory.jsonl")

	if migrate.NeedsMigration(legacyPath, dir) {
		t.Fatal("NeedsMigration true with no legacy file")
	}

	writeLegacyFile(t, legacyPath)
	if !migrate.NeedsMigration(legacyPath, dir) {
		t.Fatal("NeedsMigration false with legacy file present and no event log/snapshot")
	}

	if err := os.MkdirAll(filepath.Join(dir, "snapshots"), 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshots", "latest.jsonl"), []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if migrate.NeedsMigration(legacyPath, dir) {
		t.Fatal("NeedsMigration true once a snapshot already exists")
	}
}

func TestRunMigratesAndRenamesLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "memory.jsonl")
	writeLegacyFile(t, legacyPath)

	result, err := migrate.Run(legacyPath, dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.EntitiesMigrated != 2 {
		t.Fatalf("EntitiesMigrated = %d, want 2", result.EntitiesMigrated)
	}
	if result.RelationsMigrated != 1 {
		t.Fatalf("RelationsMigrated = %d, want 1", result.RelationsMigrated)
	}

	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Fatalf("legacy file still present at original path: %v", err)
	}
	if _, err := os.Stat(legacyPath + ".migrated"); err != nil {
		t.Fatalf("legacy file not renamed aside: %v", err)
	}

	k, err := kb.Open(kb.Config{DataDir: dir, EventSourcing: true, DefaultUser: "tester"})
	if err != nil {
		t.Fatalf("reopen as event-sourced KB: %v", err)
	}
	entities, relations := k.ReadGraph(0, 0)
	if len(entities) != 2 {
		t.Fatalf("entities after migration replay = %v, want 2", entities)
	}
	if len(relations) != 1 {
		t.Fatalf("relations after migration replay = %v, want 1", relations)
	}
}
