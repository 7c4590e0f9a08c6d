// Package persist mirrors the in-memory graph into a throwaway SQLite
// database so operators can run ad hoc SQL against a snapshot of the
// knowledge graph without the inverted index's token/prefix semantics.
// It is a read-only diagnostic mirror, not a source of truth: the
// Knowledge Base never reads it back, and nothing here is durable across
// restarts unless the caller points it at a file path.
package persist

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

// CurrentSchemaVersion identifies the mirror's table layout, bumped
// whenever createTables changes shape.
const CurrentSchemaVersion = 1

// Mirror is a SQLite-backed, read-only copy of the graph built for one
// diagnostic query session.
type Mirror struct {
	db *sql.DB
}

// Open creates a fresh SQLite database at path ("" or ":memory:" for an
// in-memory, process-local mirror) and initializes its schema.
func Open(path string) (*Mirror, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite mirror: %w", err)
	}
	m := &Mirror{db: db}
	if err := m.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the underlying database handle.
func (m *Mirror) Close() error { return m.db.Close() }

func (m *Mirror) createTables() error {
	stmts := []string{
		`CREATE TABLE entities (
			name        TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			created_by  TEXT,
			updated_by  TEXT,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE observations (
			entity_name TEXT NOT NULL REFERENCES entities(name),
			position    INTEGER NOT NULL,
			content     TEXT NOT NULL
		)`,
		`CREATE TABLE relations (
			from_name     TEXT NOT NULL REFERENCES entities(name),
			to_name       TEXT NOT NULL REFERENCES entities(name),
			relation_type TEXT NOT NULL,
			created_by    TEXT,
			created_at    INTEGER NOT NULL,
			valid_from    INTEGER,
			valid_to      INTEGER,
			PRIMARY KEY (from_name, to_name, relation_type)
		)`,
		`CREATE INDEX idx_observations_entity ON observations(entity_name)`,
		`CREATE INDEX idx_relations_from ON relations(from_name)`,
		`CREATE INDEX idx_relations_to ON relations(to_name)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("create mirror schema: %w", err)
		}
	}
	return nil
}

// Load replaces the mirror's contents with entities and relations, as
// returned by kb.KB.ReadGraph(0, 0) or kb.KB.OpenNodes. Safe to call
// repeatedly to refresh the mirror against a new read.
func (m *Mirror) Load(entities []*kgtypes.Entity, relations []*kgtypes.Relation) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin mirror load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"observations", "relations", "entities"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, e := range entities {
		if _, err := tx.Exec(
			`INSERT INTO entities (name, entity_type, created_by, updated_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.Name, e.EntityType, e.CreatedBy, e.UpdatedBy, e.CreatedAt, e.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.Name, err)
		}
		for i, obs := range e.Observations {
			if _, err := tx.Exec(
				`INSERT INTO observations (entity_name, position, content) VALUES (?, ?, ?)`,
				e.Name, i, obs,
			); err != nil {
				return fmt.Errorf("insert observation for %s: %w", e.Name, err)
			}
		}
	}

	for _, r := range relations {
		if _, err := tx.Exec(
			`INSERT INTO relations (from_name, to_name, relation_type, created_by, created_at, valid_from, valid_to)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.From, r.To, r.RelationType, r.CreatedBy, r.CreatedAt, r.ValidFrom, r.ValidTo,
		); err != nil {
			return fmt.Errorf("insert relation %s->%s: %w", r.From, r.To, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mirror load: %w", err)
	}
	return nil
}

// Query runs a read-only SQL query against the mirror and returns the
// result as column names plus rows of the driver's raw values, suitable
// for CLI printing. It rejects anything that isn't a SELECT to keep the
// mirror from being mistaken for a write path.
func (m *Mirror) Query(sqlText string) ([]string, [][]any, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sqlText)), "SELECT") {
		return nil, nil, fmt.Errorf("run query: only SELECT statements are allowed")
	}
	rows, err := m.db.Query(sqlText) //nolint:gosec // G202 - operator-supplied diagnostic query, not user input
	if err != nil {
		return nil, nil, fmt.Errorf("run query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return cols, out, nil
}
