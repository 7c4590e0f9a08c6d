package kb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kgraphd/kgraphd/internal/atomicfile"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

// ParseLegacyLine parses one line of a legacy memory.jsonl file as either
// an entity or a relation, whichever it matches. Exactly one of the
// return values is non-nil on success.
func ParseLegacyLine(line []byte) (*kgtypes.Entity, *kgtypes.Relation, error) {
	var probe struct {
		Name         string `json:"name"`
		EntityType   string `json:"entityType"`
		RelationType string `json:"relationType"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, nil, fmt.Errorf("parse legacy line: %w", err)
	}
	if probe.RelationType != "" {
		var r kgtypes.Relation
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, nil, fmt.Errorf("parse legacy relation: %w", err)
		}
		return nil, &r, nil
	}
	if probe.EntityType != "" && probe.Name != "" {
		var e kgtypes.Entity
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, nil, fmt.Errorf("parse legacy entity: %w", err)
		}
		return &e, nil, nil
	}
	return nil, nil, fmt.Errorf("legacy line is neither an entity nor a relation")
}

// loadLegacy parses k.legacyPath into k.entities/k.relations. A missing
// file is treated as an empty graph, matching a brand-new deployment.
func (k *KB) loadLegacy() error {
	f, err := os.Open(k.legacyPath) //nolint:gosec // G304 - configured data path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open legacy file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		entity, relation, err := ParseLegacyLine(line)
		if err != nil {
			logger.Printf("skipping malformed legacy line %s:%d: %v", k.legacyPath, lineNo, err)
			continue
		}
		if entity != nil {
			k.entities[entity.Name] = entity
		}
		if relation != nil {
			k.relations[relation.Key()] = relation
		}
	}
	return scanner.Err()
}

// writeLegacyLocked rewrites the entire legacy file from the current
// in-memory graph. Callers must hold k.mu for writing. This is O(N) per
// mutation by design; see the legacy-mode design note.
func (k *KB) writeLegacyLocked() error {
	return atomicfile.WriteFunc(k.legacyPath, func(f *os.File) error {
		w := bufio.NewWriter(f)
		for _, e := range k.entities {
			if err := writeJSONLine(w, e); err != nil {
				return err
			}
		}
		for _, r := range k.relations {
			if err := writeJSONLine(w, r); err != nil {
				return err
			}
		}
		return w.Flush()
	})
}

func writeJSONLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal legacy line: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
