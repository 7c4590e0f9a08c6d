// Package kb implements the Knowledge Base: the single gatekeeper of the
// in-memory entity/relation graph. Every mutation is applied under an
// exclusive lock and, in event-sourced mode, only after the corresponding
// event has been durably appended; every read is applied under a shared
// lock.
package kb

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kgraphd/kgraphd/internal/eventstore"
	"github.com/kgraphd/kgraphd/internal/inference"
	"github.com/kgraphd/kgraphd/internal/kgidentity"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
	"github.com/kgraphd/kgraphd/internal/rotation"
	"github.com/kgraphd/kgraphd/internal/searchindex"
	"github.com/kgraphd/kgraphd/internal/snapshot"
)

var logger = log.New(os.Stderr, "[kb] ", log.LstdFlags)

// Config controls how Open builds a KB.
type Config struct {
	DataDir              string
	EventSourcing        bool
	LegacyFilePath       string
	SnapshotThreshold    int
	RotationKeepArchives int
	DefaultUser          string
	RepoPath             string
	ParallelScanAbove    int
}

// KB is the authoritative in-memory graph plus the persistence machinery
// that backs it.
type KB struct {
	mu        sync.RWMutex
	entities  map[string]*kgtypes.Entity
	relations map[kgtypes.RelationKey]*kgtypes.Relation
	index     *searchindex.Index
	inference *inference.Engine

	mode       Mode
	store      *eventstore.Store
	snapshots  *snapshot.Manager
	rotator    *rotation.Rotator
	legacyPath string

	defaultUser       string
	repoPath          string
	parallelScanAbove int
	keepArchives      int

	listenersMu sync.Mutex
	listeners   []func(kgtypes.Record)
}

// Subscribe registers a listener invoked synchronously, in append order,
// each time an event is durably committed in event-sourced mode. It is
// the only hook the core exposes for transport fan-out — the broadcaster
// itself, including ordering and buffering, belongs to the transport,
// not the core. Listeners must not block or call back into the KB.
func (k *KB) Subscribe(listener func(kgtypes.Record)) {
	k.listenersMu.Lock()
	defer k.listenersMu.Unlock()
	k.listeners = append(k.listeners, listener)
}

func (k *KB) emit(rec *kgtypes.Record) {
	if rec == nil {
		return
	}
	k.listenersMu.Lock()
	listeners := k.listeners
	k.listenersMu.Unlock()
	for _, l := range listeners {
		l(*rec)
	}
}

// Open builds a KB from cfg, performing the full startup sequence: in
// event-sourced mode, load the latest snapshot (falling back to the
// previous generation, then to a full replay from event 0), then replay
// every later event; in legacy mode, parse the legacy file directly.
func Open(cfg Config) (*KB, error) {
	if cfg.ParallelScanAbove <= 0 {
		cfg.ParallelScanAbove = 1000
	}
	k := &KB{
		entities:          make(map[string]*kgtypes.Entity),
		relations:         make(map[kgtypes.RelationKey]*kgtypes.Relation),
		index:             searchindex.New(),
		inference:         inference.NewEngine(),
		defaultUser:       cfg.DefaultUser,
		repoPath:          cfg.RepoPath,
		parallelScanAbove: cfg.ParallelScanAbove,
		keepArchives:      cfg.RotationKeepArchives,
	}

	if !cfg.EventSourcing {
		k.mode = ModeLegacy
		k.legacyPath = cfg.LegacyFilePath
		if err := k.loadLegacy(); err != nil {
			return nil, fmt.Errorf("load legacy file: %w", err)
		}
		k.rebuildIndex()
		return k, nil
	}

	k.mode = ModeEventSourced
	eventsPath := filepath.Join(cfg.DataDir, "events.jsonl")
	store, err := eventstore.Open(eventsPath, cfg.SnapshotThreshold)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	k.store = store
	k.snapshots = snapshot.NewManager(cfg.DataDir)
	k.rotator = rotation.NewRotator(cfg.DataDir, eventsPath)

	if err := k.initializeFromSnapshotAndReplay(); err != nil {
		return nil, err
	}
	k.rebuildIndex()
	return k, nil
}

// initializeFromSnapshotAndReplay is the Recovering-state startup path:
// load snapshot meta + state, then replay every event after it.
func (k *KB) initializeFromSnapshotAndReplay() error {
	lastEventID, err := k.loadSnapshotState()
	if err != nil {
		logger.Printf("snapshot unusable, falling back to full replay from event 0: %v", err)
		lastEventID = 0
		k.entities = make(map[string]*kgtypes.Entity)
		k.relations = make(map[kgtypes.RelationKey]*kgtypes.Relation)
	}

	events, err := k.store.LoadAfter(lastEventID)
	if err != nil {
		return fmt.Errorf("replay events after %d: %w", lastEventID, err)
	}
	applied := lastEventID
	for _, rec := range events {
		if err := eventstore.ApplyEvent(k.entities, k.relations, rec); err != nil {
			logger.Printf("skipping unreplayable event %d: %v", rec.EventID, err)
			continue
		}
		applied = rec.EventID
	}
	k.store.ResetCounters(applied)
	return nil
}

// loadSnapshotState tries latest.jsonl then previous.jsonl, populating
// k.entities/k.relations and returning the snapshot's lastEventID. It
// returns an error only when neither generation is usable, in which case
// the caller falls back to replaying the whole log.
func (k *KB) loadSnapshotState() (uint64, error) {
	meta, entities, relations, err := k.snapshots.Read()
	if err != nil {
		logger.Printf("latest snapshot unreadable, trying previous: %v", err)
		meta, entities, relations, err = k.snapshots.Recover()
		if err != nil {
			return 0, fmt.Errorf("no usable snapshot: %w", err)
		}
	}
	k.entities = make(map[string]*kgtypes.Entity, len(entities))
	for _, e := range entities {
		k.entities[e.Name] = e
	}
	k.relations = make(map[kgtypes.RelationKey]*kgtypes.Relation, len(relations))
	for _, r := range relations {
		k.relations[r.Key()] = r
	}
	return meta.LastEventID, nil
}

func (k *KB) rebuildIndex() {
	idx := searchindex.New()
	for _, e := range k.entities {
		idx.IndexEntity(e)
	}
	k.index = idx
}

// Mode reports the persistence regime this instance is running in.
func (k *KB) Mode() Mode { return k.mode }

func (k *KB) resolveUser(candidate string) string {
	if candidate == "" || candidate == "system" {
		return kgidentity.Resolve(k.defaultUser, k.repoPath)
	}
	return candidate
}

func dedupeObservations(obs []string) []string {
	seen := make(map[string]bool, len(obs))
	out := make([]string, 0, len(obs))
	for _, o := range obs {
		if seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}

// CreateEntities adds every candidate whose name isn't already present,
// returning the entities actually added (duplicates are silently
// filtered) plus any soft-validation warnings.
func (k *KB) CreateEntities(inputs []EntityInput, actingUser string) ([]*kgtypes.Entity, []string, error) {
	k.mu.Lock()
	defer k.unlockAndPersist()

	now := uint64(time.Now().Unix())
	var added []*kgtypes.Entity
	var warnings []string

	for _, in := range inputs {
		if in.Name == "" || in.EntityType == "" {
			continue
		}
		if _, exists := k.entities[in.Name]; exists {
			continue
		}
		if !kgtypes.RecommendedEntityTypes[strings.ToLower(in.EntityType)] {
			warnings = append(warnings, fmt.Sprintf("entityType %q is not a recommended type", in.EntityType))
		}

		createdBy := in.CreatedBy
		if createdBy == "" || createdBy == "system" {
			createdBy = actingUser
		}
		createdBy = k.resolveUser(createdBy)
		updatedBy := in.UpdatedBy
		if updatedBy == "" || updatedBy == "system" {
			updatedBy = createdBy
		}

		e := &kgtypes.Entity{
			Name:         in.Name,
			EntityType:   in.EntityType,
			Observations: dedupeObservations(in.Observations),
			CreatedBy:    createdBy,
			UpdatedBy:    updatedBy,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if k.mode == ModeEventSourced {
			data := kgtypes.EntityCreatedData{Name: e.Name, EntityType: e.EntityType, Observations: e.Observations}
			rec, err := k.store.CreateAndAppend(kgtypes.EventEntityCreated, createdBy, "", "kb", data)
			if err != nil {
				return added, warnings, fmt.Errorf("append entity_created for %s: %w", e.Name, err)
			}
			k.emit(rec)
		}

		k.entities[e.Name] = e
		k.index.IndexEntity(e)
		added = append(added, e)
	}
	return added, warnings, nil
}

// CreateRelations adds every candidate whose endpoints both currently
// exist and whose (from,to,relationType) tuple is not already present.
func (k *KB) CreateRelations(inputs []RelationInput, actingUser string) ([]*kgtypes.Relation, []string, error) {
	k.mu.Lock()
	defer k.unlockAndPersist()

	now := uint64(time.Now().Unix())
	var added []*kgtypes.Relation
	var warnings []string

	for _, in := range inputs {
		if in.From == "" || in.To == "" || in.RelationType == "" {
			continue
		}
		if _, ok := k.entities[in.From]; !ok {
			continue
		}
		if _, ok := k.entities[in.To]; !ok {
			continue
		}
		key := kgtypes.RelationKey{From: in.From, To: in.To, RelationType: in.RelationType}
		if _, exists := k.relations[key]; exists {
			continue
		}
		if !kgtypes.RecommendedRelationTypes[strings.ToLower(in.RelationType)] {
			warnings = append(warnings, fmt.Sprintf("relationType %q is not a recommended type", in.RelationType))
		}

		createdBy := in.CreatedBy
		if createdBy == "" || createdBy == "system" {
			createdBy = actingUser
		}
		createdBy = k.resolveUser(createdBy)

		r := &kgtypes.Relation{
			From: in.From, To: in.To, RelationType: in.RelationType,
			CreatedBy: createdBy, CreatedAt: now,
			ValidFrom: in.ValidFrom, ValidTo: in.ValidTo,
		}

		if k.mode == ModeEventSourced {
			data := kgtypes.RelationCreatedData{
				From: r.From, To: r.To, RelationType: r.RelationType,
				ValidFrom: r.ValidFrom, ValidTo: r.ValidTo,
			}
			rec, err := k.store.CreateAndAppend(kgtypes.EventRelationCreated, createdBy, "", "kb", data)
			if err != nil {
				return added, warnings, fmt.Errorf("append relation_created for %s->%s: %w", r.From, r.To, err)
			}
			k.emit(rec)
		}

		k.relations[key] = r
		added = append(added, r)
	}
	return added, warnings, nil
}

// AddObservations appends each content string not already present on the
// named entity, updating updatedAt/updatedBy only for entities that
// actually gained an observation. Unknown entity names are silently
// ignored.
func (k *KB) AddObservations(inputs []ObservationInput, actingUser string) (map[string][]string, error) {
	k.mu.Lock()
	defer k.unlockAndPersist()

	now := uint64(time.Now().Unix())
	added := make(map[string][]string)

	for _, in := range inputs {
		e, ok := k.entities[in.EntityName]
		if !ok {
			continue
		}
		for _, content := range in.Contents {
			if e.HasObservation(content) {
				continue
			}
			if k.mode == ModeEventSourced {
				data := kgtypes.ObservationAddedData{Entity: e.Name, Observation: content}
				rec, err := k.store.CreateAndAppend(kgtypes.EventObservationAdded, k.resolveUser(actingUser), "", "kb", data)
				if err != nil {
					return added, fmt.Errorf("append observation_added for %s: %w", e.Name, err)
				}
				k.emit(rec)
			}
			e.Observations = append(e.Observations, content)
			e.UpdatedAt = now
			e.UpdatedBy = k.resolveUser(actingUser)
			added[e.Name] = append(added[e.Name], content)
		}
		if len(added[e.Name]) > 0 {
			k.index.UpdateEntity(e)
		}
	}
	return added, nil
}

// DeleteEntities removes every named entity that exists and cascades to
// every relation touching it, in the same operation.
func (k *KB) DeleteEntities(names []string, actingUser string) ([]string, error) {
	k.mu.Lock()
	defer k.unlockAndPersist()

	var removed []string
	for _, name := range names {
		if _, ok := k.entities[name]; !ok {
			continue
		}

		if k.mode == ModeEventSourced {
			data := kgtypes.EntityDeletedData{Name: name}
			rec, err := k.store.CreateAndAppend(kgtypes.EventEntityDeleted, k.resolveUser(actingUser), "", "kb", data)
			if err != nil {
				return removed, fmt.Errorf("append entity_deleted for %s: %w", name, err)
			}
			k.emit(rec)
			for key, r := range k.relations {
				if r.From != name && r.To != name {
					continue
				}
				delData := kgtypes.RelationDeletedData{From: r.From, To: r.To, RelationType: r.RelationType}
				delRec, err := k.store.CreateAndAppend(kgtypes.EventRelationDeleted, k.resolveUser(actingUser), "", "kb", delData)
				if err != nil {
					return removed, fmt.Errorf("append cascade relation_deleted for %s: %w", name, err)
				}
				k.emit(delRec)
				delete(k.relations, key)
			}
		} else {
			for key, r := range k.relations {
				if r.From == name || r.To == name {
					delete(k.relations, key)
				}
			}
		}

		delete(k.entities, name)
		k.index.RemoveEntity(name)
		removed = append(removed, name)
	}
	return removed, nil
}

// DeleteObservations removes the listed observation strings from each
// named entity, if present.
func (k *KB) DeleteObservations(deletions []ObservationDeletion, actingUser string) (int, error) {
	k.mu.Lock()
	defer k.unlockAndPersist()

	now := uint64(time.Now().Unix())
	count := 0
	for _, d := range deletions {
		e, ok := k.entities[d.EntityName]
		if !ok {
			continue
		}
		for _, obs := range d.Observations {
			idx := -1
			for i, o := range e.Observations {
				if o == obs {
					idx = i
					break
				}
			}
			if idx == -1 {
				continue
			}
			if k.mode == ModeEventSourced {
				data := kgtypes.ObservationRemovedData{Entity: e.Name, Observation: obs}
				rec, err := k.store.CreateAndAppend(kgtypes.EventObservationRemoved, k.resolveUser(actingUser), "", "kb", data)
				if err != nil {
					return count, fmt.Errorf("append observation_removed for %s: %w", e.Name, err)
				}
				k.emit(rec)
			}
			e.Observations = append(e.Observations[:idx], e.Observations[idx+1:]...)
			e.UpdatedAt = now
			e.UpdatedBy = k.resolveUser(actingUser)
			count++
		}
		k.index.UpdateEntity(e)
	}
	return count, nil
}

// DeleteRelations removes every matching (from,to,relationType) tuple
// that exists.
func (k *KB) DeleteRelations(deletions []RelationDeletion, actingUser string) (int, error) {
	k.mu.Lock()
	defer k.unlockAndPersist()

	count := 0
	for _, d := range deletions {
		key := kgtypes.RelationKey{From: d.From, To: d.To, RelationType: d.RelationType}
		if _, ok := k.relations[key]; !ok {
			continue
		}
		if k.mode == ModeEventSourced {
			data := kgtypes.RelationDeletedData{From: d.From, To: d.To, RelationType: d.RelationType}
			rec, err := k.store.CreateAndAppend(kgtypes.EventRelationDeleted, k.resolveUser(actingUser), "", "kb", data)
			if err != nil {
				return count, fmt.Errorf("append relation_deleted for %s->%s: %w", d.From, d.To, err)
			}
			k.emit(rec)
		}
		delete(k.relations, key)
		count++
	}
	return count, nil
}

// unlockAndPersist is deferred by every mutation: it rewrites the legacy
// file (if in legacy mode) while still holding the write lock, then
// releases it and, outside the lock, gives the event store a chance to
// snapshot and rotate.
func (k *KB) unlockAndPersist() {
	if k.mode == ModeLegacy {
		if err := k.writeLegacyLocked(); err != nil {
			logger.Printf("legacy file rewrite failed: %v", err)
		}
	}
	k.mu.Unlock()
	if k.mode == ModeEventSourced {
		k.maybeSnapshotAndRotate()
	}
}

// maybeSnapshotAndRotate copies the current graph under the read lock,
// releases it, then does the potentially slow file I/O without blocking
// other KB operations.
func (k *KB) maybeSnapshotAndRotate() {
	if !k.store.ShouldSnapshot() {
		return
	}

	k.mu.RLock()
	entities := make([]*kgtypes.Entity, 0, len(k.entities))
	for _, e := range k.entities {
		entities = append(entities, e)
	}
	relations := make([]*kgtypes.Relation, 0, len(k.relations))
	for _, r := range k.relations {
		relations = append(relations, r)
	}
	k.mu.RUnlock()

	lastEventID := k.store.NextEventID() - 1
	meta := kgtypes.SnapshotMeta{
		Type:          "snapshot_meta",
		LastEventID:   lastEventID,
		CreatedAt:     time.Now().Unix(),
		EntityCount:   len(entities),
		RelationCount: len(relations),
		Version:       1,
	}
	if err := k.snapshots.WriteWithBackup(meta, entities, relations); err != nil {
		logger.Printf("snapshot write failed: %v", err)
		return
	}
	k.store.ResetCounters(lastEventID)

	if err := k.rotator.RotateAfterSnapshot(lastEventID); err != nil {
		logger.Printf("log rotation failed: %v", err)
		return
	}
	if k.keepArchives > 0 {
		if err := k.rotator.CleanupOldArchives(k.keepArchives); err != nil {
			logger.Printf("archive cleanup failed: %v", err)
		}
	}
}

// Stats holds counters useful for operator diagnostics: the next event id
// to be assigned, how many events have accumulated since the last
// snapshot, and the current entity and relation counts.
type Stats struct {
	NextEventID         uint64
	EventsSinceSnapshot int
	EntityCount         int
	RelationCount       int
}

// Stats returns event-store and graph counters, or ok=false in legacy
// mode. Grounded on the admin surface a persistent knowledge-graph
// daemon needs for operators to watch snapshot/rotation health.
func (k *KB) Stats() (Stats, bool) {
	if k.mode != ModeEventSourced {
		return Stats{}, false
	}
	k.mu.RLock()
	entityCount := len(k.entities)
	relationCount := len(k.relations)
	k.mu.RUnlock()
	return Stats{
		NextEventID:         k.store.NextEventID(),
		EventsSinceSnapshot: k.store.EventsSinceSnapshot(),
		EntityCount:         entityCount,
		RelationCount:       relationCount,
	}, true
}

// CreateSnapshot forces an immediate snapshot regardless of the
// accumulated-events threshold, for operator-triggered checkpoints
// outside the normal mutation path. Returns ok=false in legacy mode or
// when there are no events yet to snapshot.
func (k *KB) CreateSnapshot() (bool, error) {
	if k.mode != ModeEventSourced {
		return false, nil
	}
	lastEventID := k.store.NextEventID() - 1
	if lastEventID == 0 {
		return false, nil
	}

	k.mu.RLock()
	entities := make([]*kgtypes.Entity, 0, len(k.entities))
	for _, e := range k.entities {
		entities = append(entities, e)
	}
	relations := make([]*kgtypes.Relation, 0, len(k.relations))
	for _, r := range k.relations {
		relations = append(relations, r)
	}
	k.mu.RUnlock()

	meta := kgtypes.SnapshotMeta{
		Type: "snapshot_meta", LastEventID: lastEventID, CreatedAt: time.Now().Unix(),
		EntityCount: len(entities), RelationCount: len(relations), Version: 1,
	}
	if err := k.snapshots.WriteWithBackup(meta, entities, relations); err != nil {
		return false, fmt.Errorf("create snapshot: %w", err)
	}
	k.store.ResetCounters(lastEventID)
	return true, nil
}

// RotateEventLog archives events already subsumed by the latest snapshot
// out of the active log, independent of the automatic post-mutation
// rotation check. Returns ok=false in legacy mode or when no snapshot
// exists yet to rotate against.
func (k *KB) RotateEventLog() (bool, error) {
	if k.mode != ModeEventSourced {
		return false, nil
	}
	meta, _, _, err := k.snapshots.Read()
	if err != nil {
		return false, nil
	}
	if err := k.rotator.RotateAfterSnapshot(meta.LastEventID); err != nil {
		return false, fmt.Errorf("rotate event log: %w", err)
	}
	return true, nil
}

// CleanupArchives deletes all but the keepCount most recent archive
// files, returning any error from listing or removing them. A no-op in
// legacy mode.
func (k *KB) CleanupArchives(keepCount int) error {
	if k.mode != ModeEventSourced {
		return nil
	}
	return k.rotator.CleanupOldArchives(keepCount)
}

// Shutdown takes one final snapshot before process exit, best-effort.
func (k *KB) Shutdown() {
	if k.mode != ModeEventSourced {
		return
	}
	k.mu.RLock()
	entities := make([]*kgtypes.Entity, 0, len(k.entities))
	for _, e := range k.entities {
		entities = append(entities, e)
	}
	relations := make([]*kgtypes.Relation, 0, len(k.relations))
	for _, r := range k.relations {
		relations = append(relations, r)
	}
	k.mu.RUnlock()

	lastEventID := k.store.NextEventID() - 1
	meta := kgtypes.SnapshotMeta{
		Type: "snapshot_meta", LastEventID: lastEventID, CreatedAt: time.Now().Unix(),
		EntityCount: len(entities), RelationCount: len(relations), Version: 1,
	}
	if err := k.snapshots.WriteWithBackup(meta, entities, relations); err != nil {
		logger.Printf("shutdown snapshot failed: %v", err)
	}
}
