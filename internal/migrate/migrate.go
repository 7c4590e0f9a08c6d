// Package migrate converts a legacy memory.jsonl deployment into an
// event-sourced one: every entity and relation line becomes a synthesized
// creation event, a fresh event log and initial snapshot are written, and
// the legacy file is renamed aside rather than deleted.
package migrate

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kgraphd/kgraphd/internal/eventstore"
	"github.com/kgraphd/kgraphd/internal/idgen"
	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
	"github.com/kgraphd/kgraphd/internal/snapshot"
)

var logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)

// Source is "migration", recorded on every synthesized event so a replay
// can distinguish originally-recorded mutations from backfilled ones.
const Source = "migration"

// NeedsMigration reports whether dataDir's legacy file should be
// migrated: the legacy file exists and neither an event log nor a
// snapshot has been created yet.
func NeedsMigration(legacyPath, dataDir string) bool {
	if _, err := os.Stat(legacyPath); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dataDir, "events.jsonl")); err == nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dataDir, "snapshots", "latest.jsonl")); err == nil {
		return false
	}
	return true
}

// Result summarizes what a migration run did.
type Result struct {
	RunID             string
	EntitiesMigrated  int
	RelationsMigrated int
	EventsWritten     int
}

// Run performs the migration described in NeedsMigration's precondition:
// parse legacyPath, synthesize events into a fresh event log under
// dataDir, write an initial snapshot, then rename legacyPath to
// legacyPath+".migrated".
func Run(legacyPath, dataDir string) (Result, error) {
	runID := idgen.MigrationRunID()
	logger.Printf("starting migration run %s for %s", runID, legacyPath)

	entities, relations, err := readLegacy(legacyPath)
	if err != nil {
		return Result{}, fmt.Errorf("read legacy file: %w", err)
	}

	eventsPath := filepath.Join(dataDir, "events.jsonl")
	store, err := eventstore.Open(eventsPath, eventstore.DefaultSnapshotThreshold)
	if err != nil {
		return Result{}, fmt.Errorf("open fresh event store: %w", err)
	}

	for _, e := range entities {
		data := kgtypes.EntityCreatedData{Name: e.Name, EntityType: e.EntityType, Observations: e.Observations}
		if _, err := store.CreateAndAppend(kgtypes.EventEntityCreated, e.CreatedBy, "", Source, data); err != nil {
			return Result{}, fmt.Errorf("synthesize entity_created for %s: %w", e.Name, err)
		}
	}
	for _, r := range relations {
		data := kgtypes.RelationCreatedData{From: r.From, To: r.To, RelationType: r.RelationType, ValidFrom: r.ValidFrom, ValidTo: r.ValidTo}
		if _, err := store.CreateAndAppend(kgtypes.EventRelationCreated, r.CreatedBy, "", Source, data); err != nil {
			return Result{}, fmt.Errorf("synthesize relation_created for %s->%s: %w", r.From, r.To, err)
		}
	}

	lastEventID := store.NextEventID() - 1
	meta := kgtypes.SnapshotMeta{
		Type: "snapshot_meta", LastEventID: lastEventID,
		EntityCount: len(entities), RelationCount: len(relations), Version: 1,
	}
	manager := snapshot.NewManager(dataDir)
	if err := manager.WriteWithBackup(meta, entities, relations); err != nil {
		return Result{}, fmt.Errorf("write initial snapshot: %w", err)
	}

	migratedPath := legacyPath + ".migrated"
	if err := os.Rename(legacyPath, migratedPath); err != nil {
		return Result{}, fmt.Errorf("rename legacy file aside: %w", err)
	}
	logger.Printf("migration run %s: migrated %d entities, %d relations (%d events) from %s to %s",
		runID, len(entities), len(relations), lastEventID, legacyPath, migratedPath)

	return Result{
		RunID:             runID,
		EntitiesMigrated:  len(entities),
		RelationsMigrated: len(relations),
		EventsWritten:     int(lastEventID),
	}, nil
}

func readLegacy(path string) ([]*kgtypes.Entity, []*kgtypes.Relation, error) {
	f, err := os.Open(path) //nolint:gosec // G304 - operator-provided legacy path
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	var entities []*kgtypes.Entity
	var relations []*kgtypes.Relation

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		entity, relation, err := kb.ParseLegacyLine(line)
		if err != nil {
			logger.Printf("skipping malformed legacy line %s:%d: %v", path, lineNo, err)
			continue
		}
		if entity != nil {
			entities = append(entities, entity)
		}
		if relation != nil {
			relations = append(relations, relation)
		}
	}
	return entities, relations, scanner.Err()
}
