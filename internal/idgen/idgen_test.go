package idgen_test

import (
	"strings"
	"testing"

	"github.com/kgraphd/kgraphd/internal/idgen"
)

func TestMigrationRunIDHasPrefixAndIsUnique(t *testing.T) {
	a := idgen.MigrationRunID()
	b := idgen.MigrationRunID()
	if !strings.HasPrefix(a, "mig_") || !strings.HasPrefix(b, "mig_") {
		t.Fatalf("ids missing mig_ prefix: %q, %q", a, b)
	}
	if a == b {
		t.Fatalf("MigrationRunID returned the same id twice: %q", a)
	}
}

func TestArchiveBatchIDHasPrefix(t *testing.T) {
	id := idgen.ArchiveBatchID()
	if !strings.HasPrefix(id, "arc_") {
		t.Fatalf("id missing arc_ prefix: %q", id)
	}
}
