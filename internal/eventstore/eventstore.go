// Package eventstore owns the append-only events.jsonl log: it assigns
// strictly increasing event ids, appends with fsync, and replays the log
// (or a tail of it) back into entity/relation maps.
package eventstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

// DefaultSnapshotThreshold is how many events accumulate before the
// Knowledge Base takes a snapshot, absent configuration overriding it.
const DefaultSnapshotThreshold = 1000

var logger = log.New(os.Stderr, "[eventstore] ", log.LstdFlags)

// Store owns events.jsonl for one data directory. It is safe for
// concurrent use; Append is itself the single-writer serialization point.
type Store struct {
	mu                  sync.Mutex
	path                string
	threshold           int
	nextEventID         uint64
	eventsSinceSnapshot int
}

// Open prepares the events file at path, creating it and its parent
// directory if necessary. The caller is responsible for calling
// ResetCounters once it has determined the last event id on disk (via
// snapshot + replay), since Open itself does not scan the log.
func Open(path string, threshold int) (*Store, error) {
	if threshold <= 0 {
		threshold = DefaultSnapshotThreshold
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304 - internal data path
		if err != nil {
			return nil, fmt.Errorf("create events file: %w", err)
		}
		_ = f.Close()
	}
	return &Store{path: path, threshold: threshold, nextEventID: 1}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ResetCounters tells the store the highest event id already durable on
// disk (0 if the log is empty) so subsequent appends continue the
// sequence, and resets the events-since-snapshot counter. Called once
// after startup replay, and again after every successful snapshot.
func (s *Store) ResetCounters(lastEventID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID = lastEventID + 1
	s.eventsSinceSnapshot = 0
}

// NextEventID reports the id that will be assigned to the next appended
// event.
func (s *Store) NextEventID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextEventID
}

// ShouldSnapshot reports whether enough events have accumulated since the
// last snapshot to warrant taking another one.
func (s *Store) ShouldSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsSinceSnapshot >= s.threshold
}

// EventsSinceSnapshot reports the current count, mostly for diagnostics.
func (s *Store) EventsSinceSnapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsSinceSnapshot
}

// Append durably writes rec, which must already carry the next expected
// event id (callers that don't control id assignment should use
// CreateAndAppend instead). It fails the monotonicity invariant loudly
// rather than silently renumbering.
func (s *Store) Append(rec *kgtypes.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.EventID != s.nextEventID {
		return fmt.Errorf("append: out-of-order eventId %d, expected %d", rec.EventID, s.nextEventID)
	}
	return s.writeLocked(rec)
}

// CreateAndAppend assigns the next event id and timestamp, marshals data
// as the event payload, and appends the resulting record.
func (s *Store) CreateAndAppend(eventType, user, agent, source string, data any) (*kgtypes.Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &kgtypes.Record{
		EventID:   s.nextEventID,
		EventType: eventType,
		Timestamp: time.Now().Unix(),
		User:      user,
		Agent:     agent,
		Source:    source,
		Data:      raw,
	}
	if err := s.writeLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// writeLocked performs the actual write+fsync; callers must hold s.mu.
// The newline-terminated line is written with a single Write call so a
// crash mid-append cannot leave a line split across two writes.
func (s *Store) writeLocked(rec *kgtypes.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // G304 - internal data path
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync events file: %w", err)
	}

	s.nextEventID = rec.EventID + 1
	s.eventsSinceSnapshot++
	return nil
}

// LoadAll returns every event in the log, in file order.
func (s *Store) LoadAll() ([]*kgtypes.Record, error) {
	return s.loadAfter(0)
}

// LoadAfter returns every event with EventID > after, in file order.
func (s *Store) LoadAfter(after uint64) ([]*kgtypes.Record, error) {
	return s.loadAfter(after)
}

func (s *Store) loadAfter(after uint64) ([]*kgtypes.Record, error) {
	f, err := os.Open(s.path) //nolint:gosec // G304 - internal data path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var recs []*kgtypes.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec kgtypes.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Printf("skipping malformed event at %s:%d: %v", s.path, lineNo, err)
			continue
		}
		if rec.EventID <= after {
			continue
		}
		recs = append(recs, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return recs, nil
}

// ApplyEvent is the deterministic, idempotent state transition that
// drives both live mutation application and startup replay. It mutates
// entities and relations in place and never fails on a well-formed event
// with a recognized type; re-applying the same event is always a no-op
// over already-applied state.
func ApplyEvent(entities map[string]*kgtypes.Entity, relations map[kgtypes.RelationKey]*kgtypes.Relation, rec *kgtypes.Record) error {
	switch rec.EventType {
	case kgtypes.EventEntityCreated:
		var d kgtypes.EntityCreatedData
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", rec.EventType, err)
		}
		if _, exists := entities[d.Name]; exists {
			return nil
		}
		obs := append([]string(nil), d.Observations...)
		entities[d.Name] = &kgtypes.Entity{
			Name:         d.Name,
			EntityType:   d.EntityType,
			Observations: obs,
			CreatedBy:    rec.User,
			UpdatedBy:    rec.User,
			CreatedAt:    uint64(rec.Timestamp),
			UpdatedAt:    uint64(rec.Timestamp),
		}

	case kgtypes.EventEntityUpdated:
		var d kgtypes.EntityUpdatedData
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", rec.EventType, err)
		}
		e, ok := entities[d.Name]
		if !ok {
			return nil
		}
		if d.EntityType != "" {
			e.EntityType = d.EntityType
		}
		e.UpdatedBy = rec.User
		e.UpdatedAt = uint64(rec.Timestamp)

	case kgtypes.EventEntityDeleted:
		var d kgtypes.EntityDeletedData
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", rec.EventType, err)
		}
		delete(entities, d.Name)
		for key := range relations {
			if key.From == d.Name || key.To == d.Name {
				delete(relations, key)
			}
		}

	case kgtypes.EventObservationAdded:
		var d kgtypes.ObservationAddedData
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", rec.EventType, err)
		}
		e, ok := entities[d.Entity]
		if !ok || e.HasObservation(d.Observation) {
			return nil
		}
		e.Observations = append(e.Observations, d.Observation)
		e.UpdatedBy = rec.User
		e.UpdatedAt = uint64(rec.Timestamp)

	case kgtypes.EventObservationRemoved:
		var d kgtypes.ObservationRemovedData
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", rec.EventType, err)
		}
		e, ok := entities[d.Entity]
		if !ok {
			return nil
		}
		idx := -1
		for i, o := range e.Observations {
			if o == d.Observation {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil
		}
		e.Observations = append(e.Observations[:idx], e.Observations[idx+1:]...)
		e.UpdatedBy = rec.User
		e.UpdatedAt = uint64(rec.Timestamp)

	case kgtypes.EventRelationCreated:
		var d kgtypes.RelationCreatedData
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", rec.EventType, err)
		}
		key := kgtypes.RelationKey{From: d.From, To: d.To, RelationType: d.RelationType}
		if _, exists := relations[key]; exists {
			return nil
		}
		relations[key] = &kgtypes.Relation{
			From:         d.From,
			To:           d.To,
			RelationType: d.RelationType,
			CreatedBy:    rec.User,
			CreatedAt:    uint64(rec.Timestamp),
			ValidFrom:    d.ValidFrom,
			ValidTo:      d.ValidTo,
		}

	case kgtypes.EventRelationDeleted:
		var d kgtypes.RelationDeletedData
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", rec.EventType, err)
		}
		delete(relations, kgtypes.RelationKey{From: d.From, To: d.To, RelationType: d.RelationType})

	default:
		return fmt.Errorf("unknown event type %q", rec.EventType)
	}
	return nil
}
