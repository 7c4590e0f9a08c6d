// Package snapshot owns snapshots/latest.jsonl and snapshots/previous.jsonl,
// bounding how much of the event log must be replayed on startup.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

var logger = log.New(os.Stderr, "[snapshot] ", log.LstdFlags)

// Manager writes and reads the snapshot generation pair under a data
// directory's snapshots/ subfolder.
type Manager struct {
	dir string
}

// NewManager returns a Manager rooted at dataDir/snapshots.
func NewManager(dataDir string) *Manager {
	return &Manager{dir: filepath.Join(dataDir, "snapshots")}
}

func (m *Manager) latestPath() string   { return filepath.Join(m.dir, "latest.jsonl") }
func (m *Manager) previousPath() string { return filepath.Join(m.dir, "previous.jsonl") }

// LatestPath exposes the resolved path to latest.jsonl, mostly for CLI
// diagnostics.
func (m *Manager) LatestPath() string { return m.latestPath() }

// WriteWithBackup writes a fresh snapshot to a temp file, fsyncs it, then
// demotes the current latest.jsonl to previous.jsonl before promoting the
// temp file into place. Between the two renames latest.jsonl is briefly
// absent while the old content sits in previous.jsonl; a partially
// written snapshot is never visible at either path.
func (m *Manager) WriteWithBackup(meta kgtypes.SnapshotMeta, entities []*kgtypes.Entity, relations []*kgtypes.Relation) error {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return fmt.Errorf("create snapshots directory: %w", err)
	}

	tmpPath := m.latestPath() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // G304 - internal data path
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	cleanTmp := true
	defer func() {
		if cleanTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(f)
	if err := writeLine(w, meta); err != nil {
		_ = f.Close()
		return err
	}
	for _, e := range entities {
		if err := writeLine(w, e); err != nil {
			_ = f.Close()
			return err
		}
	}
	for _, r := range relations {
		if err := writeLine(w, r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if _, err := os.Stat(m.latestPath()); err == nil {
		_ = os.Remove(m.previousPath())
		if err := os.Rename(m.latestPath(), m.previousPath()); err != nil {
			return fmt.Errorf("demote previous snapshot: %w", err)
		}
	}
	if err := os.Rename(tmpPath, m.latestPath()); err != nil {
		return fmt.Errorf("promote new snapshot: %w", err)
	}
	cleanTmp = false
	return nil
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot line: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write snapshot line: %w", err)
	}
	return w.WriteByte('\n')
}

// Read parses latest.jsonl.
func (m *Manager) Read() (kgtypes.SnapshotMeta, []*kgtypes.Entity, []*kgtypes.Relation, error) {
	return m.readFile(m.latestPath())
}

// Recover parses previous.jsonl, the fallback when latest.jsonl is
// missing or fails to parse.
func (m *Manager) Recover() (kgtypes.SnapshotMeta, []*kgtypes.Entity, []*kgtypes.Relation, error) {
	return m.readFile(m.previousPath())
}

func (m *Manager) readFile(path string) (kgtypes.SnapshotMeta, []*kgtypes.Entity, []*kgtypes.Relation, error) {
	var meta kgtypes.SnapshotMeta
	f, err := os.Open(path) //nolint:gosec // G304 - internal data path
	if err != nil {
		return meta, nil, nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)

	var entities []*kgtypes.Entity
	var relations []*kgtypes.Relation
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &meta); err != nil {
				return meta, nil, nil, fmt.Errorf("parse snapshot meta: %w", err)
			}
			continue
		}

		var probe struct {
			Name         string `json:"name"`
			EntityType   string `json:"entityType"`
			RelationType string `json:"relationType"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			logger.Printf("skipping malformed snapshot line in %s: %v", path, err)
			continue
		}
		switch {
		case probe.RelationType != "":
			var r kgtypes.Relation
			if err := json.Unmarshal(line, &r); err != nil {
				logger.Printf("skipping malformed relation line in %s: %v", path, err)
				continue
			}
			relations = append(relations, &r)
		case probe.EntityType != "" && probe.Name != "":
			var e kgtypes.Entity
			if err := json.Unmarshal(line, &e); err != nil {
				logger.Printf("skipping malformed entity line in %s: %v", path, err)
				continue
			}
			entities = append(entities, &e)
		}
	}
	if err := scanner.Err(); err != nil {
		return meta, nil, nil, fmt.Errorf("scan snapshot: %w", err)
	}

	if len(entities) != meta.EntityCount || len(relations) != meta.RelationCount {
		logger.Printf("snapshot %s count mismatch: meta says %d/%d entities/relations, found %d/%d",
			path, meta.EntityCount, meta.RelationCount, len(entities), len(relations))
	}
	return meta, entities, relations, nil
}
