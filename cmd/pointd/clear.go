package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jdelhommeau/pointd/internal/queue"
	"github.com/jdelhommeau/pointd/internal/ui"
)

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "queue",
	Short:   "Delete every item in the queue",
	Long: `Delete every item in the queue, whatever its state.

Pending items are lost and never reach the backend. Prefer
'pointd queue purge' for routine cleanup of delivered items.`,
	Run: runClear,
}

func init() {
	clearCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading queue stats: %v\n", err)
		os.Exit(1)
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	if total == 0 {
		fmt.Printf("%s Queue is already empty\n", ui.RenderPass("✓"))
		return
	}

	if !yes {
		pending := stats[string(queue.StatusPending)]
		var confirmed bool
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Delete all %d item(s)?", total)).
			Description(fmt.Sprintf("%d pending item(s) will never reach the backend. This cannot be undone.", pending)).
			Affirmative("Delete").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil || !confirmed {
			fmt.Println("Cancelled")
			return
		}
	}

	if err := store.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Error clearing queue: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Cleared %d item(s)\n", ui.RenderPass("✓"), total)
}
