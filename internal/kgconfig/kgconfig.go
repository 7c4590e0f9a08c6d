// Package kgconfig resolves the server's runtime configuration from
// environment variables, with explicit flag overrides taking priority
// over environment variables, which take priority over defaults.
package kgconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the resolved, ready-to-use configuration for one server
// process.
type Config struct {
	EventSourcing bool
	DataDir       string
	LegacyPath    string

	SnapshotThreshold    int
	EventHistoryBuffer   int
	WebSocketBufferSize  int
	ParallelScanAbove    int
	RotationKeepArchives int

	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
}

// Defaults mirror the tunables named in the configuration surface.
const (
	DefaultSnapshotThreshold    = 1000
	DefaultEventHistoryBuffer   = 1000
	DefaultWebSocketBufferSize  = 1024
	DefaultParallelScanAbove    = 1000
	DefaultRotationKeepArchives = 10
)

// Overrides carries CLI-flag values that take priority over environment
// variables; a zero value means "not set by the flag".
type Overrides struct {
	EventSourcing *bool
	DataDir       string
	LegacyPath    string
}

// Load resolves configuration with priority: overrides (CLI flags) >
// environment variables > defaults.
func Load(o Overrides) Config {
	cfg := Config{
		SnapshotThreshold:    DefaultSnapshotThreshold,
		EventHistoryBuffer:   DefaultEventHistoryBuffer,
		WebSocketBufferSize:  DefaultWebSocketBufferSize,
		ParallelScanAbove:    DefaultParallelScanAbove,
		RotationKeepArchives: DefaultRotationKeepArchives,
		AccessTokenLifetime:  3600 * time.Second,
		RefreshTokenLifetime: 7 * 24 * time.Hour,
	}

	cfg.EventSourcing = envBool("MEMORY_EVENT_SOURCING", false)
	cfg.LegacyPath = envString("MEMORY_FILE_PATH", "memory.jsonl")
	cfg.DataDir = deriveDataDir(cfg.LegacyPath)

	if v := os.Getenv("MEMORY_SNAPSHOT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotThreshold = n
		}
	}
	if v := os.Getenv("MEMORY_PARALLEL_SCAN_ABOVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ParallelScanAbove = n
		}
	}
	if v := os.Getenv("MEMORY_ROTATION_KEEP_ARCHIVES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RotationKeepArchives = n
		}
	}

	if o.EventSourcing != nil {
		cfg.EventSourcing = *o.EventSourcing
	}
	if o.LegacyPath != "" {
		cfg.LegacyPath = o.LegacyPath
		cfg.DataDir = deriveDataDir(o.LegacyPath)
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}

	return cfg
}

func deriveDataDir(legacyPath string) string {
	return filepath.Dir(legacyPath)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}
