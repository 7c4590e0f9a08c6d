// Package rotation archives events already subsumed by a snapshot out of
// the active log and prunes old archive files by a keep-N-most-recent
// policy.
package rotation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/kgraphd/kgraphd/internal/atomicfile"
)

var logger = log.New(os.Stderr, "[rotation] ", log.LstdFlags)

// Rotator owns the archive/ subfolder of a data directory.
type Rotator struct {
	eventsPath string
	archiveDir string
}

// NewRotator builds a Rotator for the events file at eventsPath, archiving
// into dataDir/archive.
func NewRotator(dataDir, eventsPath string) *Rotator {
	return &Rotator{eventsPath: eventsPath, archiveDir: filepath.Join(dataDir, "archive")}
}

// RotateAfterSnapshot moves every event with EventID <= lastSnapshotID out
// of the active log into archive/events_<lo>_to_<hi>.jsonl, and leaves
// only later events in events.jsonl. It is a no-op if nothing qualifies
// for archiving.
func (r *Rotator) RotateAfterSnapshot(lastSnapshotID uint64) error {
	data, err := os.ReadFile(r.eventsPath) //nolint:gosec // G304 - internal data path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read events file: %w", err)
	}

	var archived, kept []json.RawMessage
	var firstArchived uint64
	haveFirst := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var probe struct {
			EventID uint64 `json:"eventId"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			logger.Printf("skipping malformed event at %s:%d during rotation: %v", r.eventsPath, lineNo, err)
			continue
		}
		cp := make(json.RawMessage, len(line))
		copy(cp, line)
		if probe.EventID <= lastSnapshotID {
			if !haveFirst {
				firstArchived = probe.EventID
				haveFirst = true
			}
			archived = append(archived, cp)
		} else {
			kept = append(kept, cp)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events file: %w", err)
	}

	if len(archived) == 0 {
		return nil
	}

	if err := os.MkdirAll(r.archiveDir, 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	archivePath := filepath.Join(r.archiveDir, fmt.Sprintf("events_%d_to_%d.jsonl", firstArchived, lastSnapshotID))
	if err := atomicfile.WriteFunc(archivePath, func(f *os.File) error {
		return writeLines(f, archived)
	}); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	if err := atomicfile.WriteFunc(r.eventsPath, func(f *os.File) error {
		return writeLines(f, kept)
	}); err != nil {
		return fmt.Errorf("rewrite active log: %w", err)
	}
	return nil
}

func writeLines(f *os.File, lines []json.RawMessage) error {
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.Write(l); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ListArchives returns archive file names under archive/, sorted
// ascending by filename. The ids in the names are not zero-padded, so
// this lexical order matches lo-event-id order only while the lo ids
// have the same number of digits (events_10_... sorts before
// events_9_...).
func (r *Rotator) ListArchives() ([]string, error) {
	entries, err := os.ReadDir(r.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CleanupOldArchives deletes all but the keepN most recent archive files
// (sorted by filename, oldest first).
func (r *Rotator) CleanupOldArchives(keepN int) error {
	names, err := r.ListArchives()
	if err != nil {
		return err
	}
	if keepN < 0 {
		keepN = 0
	}
	if len(names) <= keepN {
		return nil
	}
	for _, name := range names[:len(names)-keepN] {
		if err := os.Remove(filepath.Join(r.archiveDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove archive %s: %w", name, err)
		}
	}
	return nil
}
