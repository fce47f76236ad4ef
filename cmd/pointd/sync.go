package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdelhommeau/pointd/internal/engine"
	"github.com/jdelhommeau/pointd/internal/netmon"
	"github.com/jdelhommeau/pointd/internal/notify"
	"github.com/jdelhommeau/pointd/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "core",
	Short:   "Run one sync cycle now",
	Long: `Drain the pending queue with a single synchronous sync cycle.

Items are delivered in creation order. Failures are recorded against
each item's retry budget but not retried within this run; the daemon
(or the next 'pointd sync') picks them up again. Items that exhaust
their budget are dead-lettered as 'failed'.

This command assumes the backend is reachable and lets delivery errors
speak for themselves, which makes it useful from cron or scripts where
no probe monitor is running.`,
	Run: runSync,
}

func init() {
	syncCmd.Flags().BoolP("verbose", "v", false, "Log engine activity to stderr")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg := loadConfig()
	if cfg.ServerURL == "" {
		fmt.Fprintf(os.Stderr, "Error: no server URL configured\n")
		fmt.Fprintf(os.Stderr, "Run 'pointd init' or pass --server\n")
		os.Exit(1)
	}

	store := openStore(cfg)
	defer store.Close()

	pendingBefore, err := store.CountPending()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error counting pending items: %v\n", err)
		os.Exit(1)
	}
	failedBefore, err := store.CountFailed()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error counting failed items: %v\n", err)
		os.Exit(1)
	}

	if pendingBefore == 0 {
		fmt.Printf("%s Queue is empty, nothing to sync\n", ui.RenderPass("✓"))
		if failedBefore > 0 {
			fmt.Printf("%s %d failed item(s) need 'pointd queue requeue' before they sync again\n",
				ui.RenderWarn("⚠"), failedBefore)
		}
		return
	}

	logOut := io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "[engine] ", log.LstdFlags)

	engCfg := buildEngineConfig(cfg, logger)
	monitor := netmon.NewManual(true)
	defer monitor.Close()

	eng, err := engine.NewWithConfig(store, newDispatcher(cfg), monitor, notify.New(logger), engCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s Syncing %d item(s) to %s...\n", ui.RenderAccent("🔄"), pendingBefore, cfg.ServerURL)
	start := time.Now()

	if err := eng.SyncOnce(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
		os.Exit(1)
	}

	// Cancel retry timers armed by in-cycle failures; one-shot mode does
	// not stay alive to serve them.
	_ = eng.Stop()

	elapsed := time.Since(start)

	pendingAfter, err := store.CountPending()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error counting pending items: %v\n", err)
		os.Exit(1)
	}
	failedAfter, err := store.CountFailed()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error counting failed items: %v\n", err)
		os.Exit(1)
	}

	deadLettered := failedAfter - failedBefore
	delivered := pendingBefore - pendingAfter - deadLettered

	fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
	fmt.Printf("   Delivered: %d\n", delivered)
	if pendingAfter > 0 {
		fmt.Printf("   Still pending: %d (will retry on the next run)\n", pendingAfter)
	}
	if deadLettered > 0 {
		fmt.Printf("   %s Dead-lettered: %d (inspect with 'pointd queue list --status failed')\n",
			ui.RenderFail("✗"), deadLettered)
	}

	if pendingAfter > 0 || deadLettered > 0 {
		os.Exit(1)
	}
}
