// Package idgen generates ULID-based identifiers for the non-eventId
// concerns that need a sortable, collision-resistant id: migration run
// markers and rotation archive batch ids. eventId itself stays a plain
// uint64 counter (see internal/eventstore), since replay order depends on
// it being strictly increasing.
package idgen

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

func generate() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// MigrationRunID returns a fresh id identifying one migration run.
func MigrationRunID() string { return "mig_" + generate() }

// ArchiveBatchID returns a fresh id for correlating one rotation's
// archive file with log entries, if a caller wants to tag its own
// bookkeeping.
func ArchiveBatchID() string { return "arc_" + generate() }
