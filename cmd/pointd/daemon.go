package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jdelhommeau/pointd/internal/agent"
	"github.com/jdelhommeau/pointd/internal/dashboard"
	"github.com/jdelhommeau/pointd/internal/engine"
	"github.com/jdelhommeau/pointd/internal/netmon"
	"github.com/jdelhommeau/pointd/internal/notify"
	"github.com/jdelhommeau/pointd/internal/spool"
	"github.com/jdelhommeau/pointd/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "core",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the pointd sync daemon in the foreground.

The daemon wires together the full sync pipeline:
  1. Probes backend connectivity on an interval
  2. Drains the queue in creation order whenever the backend is reachable
  3. Retries failed deliveries with exponential backoff
  4. Dead-letters items that exhaust their retry budget
  5. Purges synced items past the retention window

Optional surfaces, enabled through config or flags:
  - A spool directory: headless producers drop *.json action files that
    are validated, enqueued, and removed
  - A WebSocket dashboard broadcasting live queue status
  - A periodic background trigger that nudges the engine even without
    connectivity events

Signals:
  SIGINT/SIGTERM  graceful shutdown
  SIGUSR1         foreground-resume nudge (sync if online and work exists)

Example usage:
  pointd daemon                             # config-driven
  pointd daemon --spool /var/spool/pointd   # enable drop-file intake
  pointd daemon --dashboard-port 7823       # enable the dashboard
  pointd daemon --log-file ~/.pointd/pointd.log`,
	Run: runDaemon,
}

func init() {
	daemonCmd.Flags().String("spool", "", "Spool directory for drop-file intake (empty disables)")
	daemonCmd.Flags().Int("dashboard-port", 0, "Dashboard port (0 disables)")
	daemonCmd.Flags().String("log-file", "", "Rotate daemon logs through this file instead of stderr")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if cmd.Flags().Changed("spool") {
		cfg.Spool.Dir, _ = cmd.Flags().GetString("spool")
	}
	if cmd.Flags().Changed("dashboard-port") {
		cfg.Dashboard.Port, _ = cmd.Flags().GetInt("dashboard-port")
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File, _ = cmd.Flags().GetString("log-file")
	}

	if cfg.ServerURL == "" {
		fmt.Fprintf(os.Stderr, "Error: no server URL configured\n")
		fmt.Fprintf(os.Stderr, "Run 'pointd init' or pass --server\n")
		os.Exit(1)
	}

	// Log sink: stderr, or a rotating file when configured.
	var logOut io.Writer = os.Stderr
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		defer rotator.Close()
		logOut = rotator
	}

	store := openStore(cfg)
	defer store.Close()

	dispatcher := newDispatcher(cfg)

	probeCfg := netmon.DefaultProbeConfig(cfg.ProbeTarget())
	if cfg.ProbeInterval > 0 {
		probeCfg.Interval = cfg.ProbeInterval
	}
	probeCfg.Logger = log.New(logOut, "[netmon] ", log.LstdFlags)
	monitor := netmon.NewProbe(probeCfg)

	notifier := notify.New(log.New(logOut, "[notify] ", log.LstdFlags))

	engCfg := buildEngineConfig(cfg, log.New(logOut, "[engine] ", log.LstdFlags))

	// Dashboard is optional; when enabled, its handler receives both the
	// status snapshots and the per-item outcomes.
	var server *dashboard.Server
	var handler *dashboard.Handler
	if cfg.Dashboard.Port > 0 {
		server = dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: log.New(logOut, "[dashboard] ", log.LstdFlags),
		})
		handler = dashboard.NewHandler(server, log.New(logOut, "[dashboard] ", log.LstdFlags))
		engCfg.OnItemSynced = handler.OnItemSynced
		engCfg.OnItemFailed = handler.OnItemFailed
		engCfg.OnQueueCleared = handler.OnQueueCleared
	}

	eng, err := engine.NewWithConfig(store, dispatcher, monitor, notifier, engCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGUSR1 maps to a foreground-resume event on the monitor.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for range usr1 {
			monitor.Foreground()
		}
	}()

	monitor.Start(ctx)
	defer monitor.Stop()

	if server != nil {
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
			os.Exit(1)
		}
		unsubscribe := eng.Subscribe(handler.OnStatus)
		defer unsubscribe()
	}

	var watcher *spool.Watcher
	if cfg.Spool.Dir != "" {
		watcher, err = spool.New(eng, &spool.Config{
			Dir:      cfg.Spool.Dir,
			Debounce: cfg.Spool.Debounce,
			Logger:   log.New(logOut, "[spool] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating spool watcher: %v\n", err)
			os.Exit(1)
		}
		if err := watcher.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting spool watcher: %v\n", err)
			os.Exit(1)
		}
		// Outcomes are logged by the watcher; keep its buffer drained.
		go func() {
			for range watcher.Results() {
			}
		}()
	}

	// The background trigger is best effort. Foreground syncs still work
	// without it.
	ticker := agent.NewTicker(cfg.Agent.Interval, log.New(logOut, "[agent] ", log.LstdFlags))
	if err := ticker.Register(eng.ForceSync); err != nil {
		engCfg.Logger.Printf("Background trigger unavailable: %v", err)
	}

	fmt.Printf("%s Starting pointd daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Server: %s\n", cfg.ServerURL)
	fmt.Printf("   Queue: %s\n", cfg.DBPath)
	if cfg.Spool.Dir != "" {
		fmt.Printf("   Spool: %s\n", cfg.Spool.Dir)
	}
	if server != nil {
		fmt.Printf("   Dashboard: http://localhost:%d\n", cfg.Dashboard.Port)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	// Blocks until SIGINT/SIGTERM; the engine shuts itself down on cancel.
	if err := eng.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nShutting down...")

	if err := ticker.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping background trigger: %v\n", err)
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping spool watcher: %v\n", err)
		}
	}
	if server != nil {
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
		}
	}

	fmt.Println("pointd daemon stopped")
}
