package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdelhommeau/pointd/internal/config"
	"github.com/jdelhommeau/pointd/internal/credentials"
	"github.com/jdelhommeau/pointd/internal/dispatch"
	"github.com/jdelhommeau/pointd/internal/engine"
	"github.com/jdelhommeau/pointd/internal/queue"
)

var (
	cfgFile        string
	dbOverride     string
	serverOverride string
)

var rootCmd = &cobra.Command{
	Use:   "pointd",
	Short: "Offline-first sync daemon for punch-clock actions",
	Long: `pointd queues punch-clock actions (clock-in, clock-out, time entry
edits) in a local SQLite database and delivers them to the backend
whenever connectivity allows.

Actions are accepted at any time, online or not. A background daemon
watches connectivity, drains the queue in creation order, retries
failures with exponential backoff, and dead-letters items that exhaust
their retry budget so an operator can inspect and requeue them.

Getting started:
  pointd init                    # write config and credentials
  pointd daemon                  # run the sync daemon in the foreground
  pointd enqueue clock-in --data '{"employee_id":"emp-1","timestamp":"2026-01-05T08:00:00Z"}'
  pointd status                  # queue counts and connectivity`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.pointd/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "Queue database path (default from config)")
	rootCmd.PersistentFlags().StringVar(&serverOverride, "server", "", "Backend base URL (default from config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "queue", Title: "Queue Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if dbOverride != "" {
		cfg.DBPath = dbOverride
	}
	if serverOverride != "" {
		cfg.ServerURL = serverOverride
	}

	return cfg
}

// openStore opens the queue database and makes sure the schema exists.
func openStore(cfg *config.Config) *queue.Store {
	store, err := queue.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening queue database: %v\n", err)
		os.Exit(1)
	}

	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}

	return store
}

// resolveCredentialsPath picks the configured credentials file or the
// default under ~/.pointd.
func resolveCredentialsPath(cfg *config.Config) string {
	if cfg.CredentialsPath != "" {
		return cfg.CredentialsPath
	}

	path, err := credentials.DefaultPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving credentials path: %v\n", err)
		os.Exit(1)
	}
	return path
}

// newDispatcher builds the HTTP dispatcher for the configured backend.
func newDispatcher(cfg *config.Config) *dispatch.HTTP {
	dispatcher, err := dispatch.NewHTTP(dispatch.Config{
		BaseURL:     cfg.ServerURL,
		Credentials: credentials.NewFile(resolveCredentialsPath(cfg)),
		UserAgent:   "pointd/" + version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating dispatcher: %v\n", err)
		os.Exit(1)
	}
	return dispatcher
}

// buildEngineConfig maps file/env settings onto the engine defaults.
// Zero values fall back inside the engine itself.
func buildEngineConfig(cfg *config.Config, logger *log.Logger) *engine.Config {
	engCfg := engine.DefaultConfig()
	if cfg.Sync.MaxRetries > 0 {
		engCfg.MaxRetries = cfg.Sync.MaxRetries
	}
	engCfg.BaseDelay = cfg.Sync.BaseDelay
	engCfg.MaxDelay = cfg.Sync.MaxDelay
	engCfg.Retention = cfg.Sync.Retention
	engCfg.PurgeInterval = cfg.Sync.PurgeInterval
	engCfg.Logger = logger
	return engCfg
}
