package kgconfig_test

import (
	"testing"

	"github.com/kgraphd/kgraphd/internal/kgconfig"
)

func TestLoadDefaults(t *testing.T) {
	cfg := kgconfig.Load(kgconfig.Overrides{})
	if cfg.EventSourcing {
		t.Fatal("EventSourcing default should be false (Legacy Mode)")
	}
	if cfg.SnapshotThreshold != kgconfig.DefaultSnapshotThreshold {
		t.Fatalf("SnapshotThreshold = %d, want %d", cfg.SnapshotThreshold, kgconfig.DefaultSnapshotThreshold)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MEMORY_EVENT_SOURCING", "true")
	t.Setenv("MEMORY_FILE_PATH", "/data/memory.jsonl")
	t.Setenv("MEMORY_SNAPSHOT_THRESHOLD", "50")

	cfg := kgconfig.Load(kgconfig.Overrides{})
	if !cfg.EventSourcing {
		t.Fatal("EventSourcing = false, want true")
	}
	if cfg.DataDir != "/data" {
		t.Fatalf("DataDir = %q, want /data", cfg.DataDir)
	}
	if cfg.SnapshotThreshold != 50 {
		t.Fatalf("SnapshotThreshold = %d, want 50", cfg.SnapshotThreshold)
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("MEMORY_EVENT_SOURCING", "true")
	flagOff := false

	cfg := kgconfig.Load(kgconfig.Overrides{EventSourcing: &flagOff})
	if cfg.EventSourcing {
		t.Fatal("flag override did not win over env var")
	}
}
