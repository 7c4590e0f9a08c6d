package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	goruntime "runtime"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kgraphd/kgraphd/internal/atomicfile"
	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/kgconfig"
	"github.com/kgraphd/kgraphd/internal/kgidentity"
	"github.com/kgraphd/kgraphd/internal/migrate"
	"github.com/kgraphd/kgraphd/internal/searchindex/persist"
	"github.com/kgraphd/kgraphd/internal/toolapi"
	kgraphmcp "github.com/kgraphd/kgraphd/transport/mcp"
	kgws "github.com/kgraphd/kgraphd/transport/ws"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagDataDir       string
	flagLegacyPath    string
	flagEventSourcing bool
	flagUser          string
	flagRepo          string
	flagJSON          bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kgraphd",
		Short: "Persistent, multi-transport knowledge-graph server",
		Long: `kgraphd serves an in-memory graph of entities and relations backed
by an append-only event log with periodic snapshots and log rotation,
exposed through a uniform tool-invocation interface.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Event-sourced data directory (overrides MEMORY_FILE_PATH-derived default)")
	rootCmd.PersistentFlags().StringVar(&flagLegacyPath, "legacy-path", "", "Legacy-mode memory.jsonl path (overrides MEMORY_FILE_PATH)")
	rootCmd.PersistentFlags().BoolVar(&flagEventSourcing, "event-sourcing", false, "Force event-sourced mode (overrides MEMORY_EVENT_SOURCING)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "Identity attributed to mutations (overrides git/env discovery)")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", ".", "Repository path consulted for user-identity discovery")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("kgraphd v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(sqlCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(rotateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves kgconfig.Config from flags + environment, applying
// any CLI overrides before environment defaults.
func loadConfig() kgconfig.Config {
	var overrides kgconfig.Overrides
	if flagEventSourcing {
		t := true
		overrides.EventSourcing = &t
	}
	overrides.DataDir = flagDataDir
	overrides.LegacyPath = flagLegacyPath
	return kgconfig.Load(overrides)
}

// openKB builds a kb.Config from the resolved kgconfig.Config and opens
// the Knowledge Base, running the snapshot-load/replay/index-rebuild
// startup sequence and, in event-sourced mode, a one-time legacy migration
// if one is pending.
func openKB(cfg kgconfig.Config) (*kb.KB, error) {
	repoPath, err := filepath.Abs(flagRepo)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}
	user := kgidentity.Resolve(flagUser, repoPath)

	if cfg.EventSourcing {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		if err := atomicfile.CleanupTemp(cfg.DataDir); err != nil {
			return nil, fmt.Errorf("cleanup leftover temp files: %w", err)
		}
		if migrate.NeedsMigration(cfg.LegacyPath, cfg.DataDir) {
			result, err := migrate.Run(cfg.LegacyPath, cfg.DataDir)
			if err != nil {
				return nil, fmt.Errorf("migrate legacy file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "migrated %s: %d entities, %d relations, %d events (run %s)\n",
				cfg.LegacyPath, result.EntitiesMigrated, result.RelationsMigrated, result.EventsWritten, result.RunID)
		}
	}

	return kb.Open(kb.Config{
		DataDir:              cfg.DataDir,
		EventSourcing:        cfg.EventSourcing,
		LegacyFilePath:       cfg.LegacyPath,
		SnapshotThreshold:    cfg.SnapshotThreshold,
		RotationKeepArchives: cfg.RotationKeepArchives,
		DefaultUser:          user,
		RepoPath:             repoPath,
		ParallelScanAbove:    cfg.ParallelScanAbove,
	})
}

// isInteractive returns true if stdout is a terminal (not piped/redirected),
// used to decide whether inspect/sql output gets pretty-indented JSON or
// compact JSON suited to scripting.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func serveCmd() *cobra.Command {
	var transportName string
	var wsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a transport adapter exposing the Tool Interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(transportName, wsAddr)
		},
	}
	cmd.Flags().StringVar(&transportName, "transport", "mcp", "Transport to start: mcp (stdio)")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "Also broadcast graph events over WebSocket at this addr (e.g. localhost:9999); empty disables it")
	return cmd
}

func runServe(transportName, wsAddr string) error {
	if transportName != "mcp" {
		return fmt.Errorf("unsupported transport %q: only \"mcp\" is built into this binary", transportName)
	}

	cfg := loadConfig()
	graph, err := openKB(cfg)
	if err != nil {
		return fmt.Errorf("open knowledge base: %w", err)
	}

	// Best-effort graceful shutdown: take one final snapshot before exit.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer graph.Shutdown()

	if wsAddr != "" {
		hub := kgws.NewHub(cfg.WebSocketBufferSize)
		hub.Subscribe(graph)
		go func() {
			if err := kgws.ListenAndServe(ctx, wsAddr, hub); err != nil {
				fmt.Fprintf(os.Stderr, "websocket broadcast pump stopped: %v\n", err)
			}
		}()
	}

	user := kgidentity.Resolve(flagUser, flagRepo)
	server := kgraphmcp.NewServer(graph, user, kgraphmcp.WithVersion(Version))
	return server.Run(ctx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrate a legacy memory.jsonl file into event-sourced mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !migrate.NeedsMigration(cfg.LegacyPath, cfg.DataDir) {
				fmt.Println("nothing to migrate: legacy file absent, or event log/snapshot already present")
				return nil
			}
			result, err := migrate.Run(cfg.LegacyPath, cfg.DataDir)
			if err != nil {
				return err
			}
			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Printf("migration run %s: %d entities, %d relations, %d events written\n",
				result.RunID, result.EntitiesMigrated, result.RelationsMigrated, result.EventsWritten)
			return nil
		},
	}
}

func inspectCmd() *cobra.Command {
	var (
		query string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read-only CLI peek into the graph (search or full read)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			graph, err := openKB(cfg)
			if err != nil {
				return fmt.Errorf("open knowledge base: %w", err)
			}
			defer graph.Shutdown()

			user := kgidentity.Resolve(flagUser, flagRepo)
			api := toolapi.New(graph, user)

			var out any
			if query != "" {
				res, err := api.SearchNodes(query, limit, true)
				if err != nil {
					return err
				}
				out = res
			} else {
				out = api.ReadGraph(limit, 0)
			}
			enc := json.NewEncoder(os.Stdout)
			if isInteractive() || flagJSON {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "Search term; omit to dump the whole graph")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max entities to return (0 = no limit)")
	return cmd
}

// sqlCmd loads the current graph into a throwaway SQLite mirror
// (internal/searchindex/persist) and runs one ad hoc read-only query
// against it, for operators who want relational queries the Tool
// Interface doesn't expose directly.
func sqlCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Run an ad hoc SQL query against a throwaway SQLite mirror of the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}
			cfg := loadConfig()
			graph, err := openKB(cfg)
			if err != nil {
				return fmt.Errorf("open knowledge base: %w", err)
			}
			defer graph.Shutdown()

			mirror, err := persist.Open("")
			if err != nil {
				return fmt.Errorf("open sqlite mirror: %w", err)
			}
			defer func() { _ = mirror.Close() }()

			entities, relations := graph.ReadGraph(0, 0)
			if err := mirror.Load(entities, relations); err != nil {
				return fmt.Errorf("load mirror: %w", err)
			}

			cols, rows, err := mirror.Query(query)
			if err != nil {
				return err
			}

			results := make([]map[string]any, 0, len(rows))
			for _, row := range rows {
				rec := make(map[string]any, len(cols))
				for i, col := range cols {
					rec[col] = row[i]
				}
				results = append(results, rec)
			}

			enc := json.NewEncoder(os.Stdout)
			if isInteractive() || flagJSON {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(results)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "SQL SELECT to run against the mirrored graph (tables: entities, observations, relations)")
	return cmd
}

// statsCmd reports event-store counters, for operators watching
// snapshot/rotation health outside the Tool Interface.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report event-store statistics (event-sourced mode only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			graph, err := openKB(cfg)
			if err != nil {
				return fmt.Errorf("open knowledge base: %w", err)
			}
			defer graph.Shutdown()

			stats, ok := graph.Stats()
			if !ok {
				fmt.Println("stats unavailable: running in legacy mode")
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			if isInteractive() || flagJSON {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(stats)
		},
	}
}

// snapshotCmd forces an immediate snapshot, independent of the
// accumulated-events threshold that normally triggers one.
func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Force an immediate snapshot (event-sourced mode only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			graph, err := openKB(cfg)
			if err != nil {
				return fmt.Errorf("open knowledge base: %w", err)
			}
			defer graph.Shutdown()

			created, err := graph.CreateSnapshot()
			if err != nil {
				return err
			}
			if !created {
				fmt.Println("no snapshot taken: legacy mode or nothing to snapshot yet")
				return nil
			}
			fmt.Println("snapshot written")
			return nil
		},
	}
}

// rotateCmd archives events already subsumed by the latest snapshot out
// of the active log, then optionally prunes old archive files.
func rotateCmd() *cobra.Command {
	var keepArchives int
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Archive events covered by the latest snapshot (event-sourced mode only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			graph, err := openKB(cfg)
			if err != nil {
				return fmt.Errorf("open knowledge base: %w", err)
			}
			defer graph.Shutdown()

			rotated, err := graph.RotateEventLog()
			if err != nil {
				return err
			}
			if !rotated {
				fmt.Println("no rotation performed: legacy mode or no snapshot to rotate against")
				return nil
			}
			fmt.Println("event log rotated")

			if keepArchives > 0 {
				if err := graph.CleanupArchives(keepArchives); err != nil {
					return fmt.Errorf("cleanup archives: %w", err)
				}
				fmt.Printf("kept %d most recent archives\n", keepArchives)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keepArchives, "keep-archives", 0, "Delete all but the N most recent archive files (0 = skip cleanup)")
	return cmd
}
