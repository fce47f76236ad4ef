package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdelhommeau/pointd/internal/queue"
	"github.com/jdelhommeau/pointd/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "queue",
	Short:   "Inspect and manage the durable queue",
	Long: `Inspect and manage the durable queue.

Items move through three states: pending (awaiting delivery), synced
(delivered, purged after the retention window) and failed (out of
retries, kept until requeued or cleared).

Example usage:
  pointd queue list
  pointd queue list --status failed -o json
  pointd queue show 42
  pointd queue requeue 42
  pointd queue requeue --all-failed
  pointd queue purge --older-than "2 weeks ago"
  pointd queue export -o backup.jsonl
  pointd queue import backup.jsonl`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	Run:   runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one item in full, payload included",
	Args:  cobra.ExactArgs(1),
	Run:   runQueueShow,
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue [id...]",
	Short: "Return failed items to the pending state",
	Long: `Return failed items to the pending state.

Requeueing resets an item's retry budget to zero. The daemon picks it
up on its next sync cycle. Only failed items can be requeued.

Example usage:
  pointd queue requeue 42
  pointd queue requeue 42 43 44
  pointd queue requeue --all-failed`,
	Run: runQueueRequeue,
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old synced items",
	Long: `Delete synced items older than a cutoff.

Only delivered items are purged; pending and failed items are never
touched. Without --older-than the configured retention window applies.

The cutoff accepts natural language or a Go duration:
  pointd queue purge
  pointd queue purge --older-than "2 weeks ago"
  pointd queue purge --older-than "last monday"
  pointd queue purge --older-than 72h`,
	Run: runQueuePurge,
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the queue as JSONL",
	Long: `Write every item to stdout (or a file), one JSON object per line.

The export is a portable backup: ids are reassigned on import but
timestamps, status and retry bookkeeping survive the round trip.`,
	Run: runQueueExport,
}

var queueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import items from a JSONL export",
	Args:  cobra.ExactArgs(1),
	Run:   runQueueImport,
}

func init() {
	queueListCmd.Flags().String("status", "", "Filter by status: pending, synced or failed")
	queueListCmd.Flags().String("kind", "", "Filter by action kind")
	queueListCmd.Flags().Int("limit", 50, "Maximum items to list (0 = no limit)")
	queueListCmd.Flags().StringP("output", "o", "", "Output format: json or yaml (default: table)")

	queueShowCmd.Flags().StringP("output", "o", "", "Output format: json or yaml (default: human-readable)")

	queueRequeueCmd.Flags().Bool("all-failed", false, "Requeue every failed item")
	queueRequeueCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	queuePurgeCmd.Flags().String("older-than", "", "Cutoff, e.g. \"2 weeks ago\" or 72h (default: the retention window)")

	queueExportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	queueCmd.AddCommand(queueExportCmd)
	queueCmd.AddCommand(queueImportCmd)
	rootCmd.AddCommand(queueCmd)
}

// itemView is the machine-readable item shape behind -o json|yaml.
// The payload is decoded so it nests instead of arriving as an
// escaped string.
type itemView struct {
	ID         int64        `json:"id" yaml:"id"`
	Kind       string       `json:"kind" yaml:"kind"`
	Status     queue.Status `json:"status" yaml:"status"`
	Endpoint   string       `json:"endpoint" yaml:"endpoint"`
	Method     string       `json:"method" yaml:"method"`
	Payload    any          `json:"payload" yaml:"payload"`
	CreatedAt  time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" yaml:"updated_at"`
	RetryCount int          `json:"retry_count" yaml:"retry_count"`
	MaxRetries int          `json:"max_retries" yaml:"max_retries"`
	SyncedAt   *time.Time   `json:"synced_at,omitempty" yaml:"synced_at,omitempty"`
	LastError  string       `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

func newItemView(item *queue.Item) itemView {
	var payload any
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			payload = string(item.Payload)
		}
	}
	return itemView{
		ID:         item.ID,
		Kind:       item.Kind,
		Status:     item.Status,
		Endpoint:   item.Endpoint,
		Method:     item.Method,
		Payload:    payload,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
		RetryCount: item.RetryCount,
		MaxRetries: item.MaxRetries,
		SyncedAt:   item.SyncedAt,
		LastError:  item.LastError,
	}
}

func emitViews(output string, v any) {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding YAML: %v\n", err)
			os.Exit(1)
		}
		enc.Close()
	}
}

func runQueueList(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	kind, _ := cmd.Flags().GetString("kind")
	limit, _ := cmd.Flags().GetInt("limit")
	output, _ := cmd.Flags().GetString("output")

	switch queue.Status(status) {
	case "", queue.StatusPending, queue.StatusSynced, queue.StatusFailed:
	default:
		fmt.Fprintf(os.Stderr, "Error: --status must be pending, synced or failed\n")
		os.Exit(1)
	}
	if output != "" && output != "json" && output != "yaml" {
		fmt.Fprintf(os.Stderr, "Error: --output must be 'json' or 'yaml'\n")
		os.Exit(1)
	}

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	items, err := store.List(queue.Filter{
		Status: queue.Status(status),
		Kind:   kind,
		Limit:  limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing items: %v\n", err)
		os.Exit(1)
	}

	if output != "" {
		views := make([]itemView, 0, len(items))
		for _, item := range items {
			views = append(views, newItemView(item))
		}
		emitViews(output, views)
		return
	}

	if len(items) == 0 {
		fmt.Println("Queue is empty")
		return
	}

	fmt.Printf("%-5s | %-14s | %-8s | %-7s | %-5s | %s\n",
		"ID", "KIND", "STATUS", "RETRIES", "AGE", "LAST ERROR")
	fmt.Println(strings.Repeat("-", 78))
	for _, item := range items {
		// Pad before styling so ANSI codes do not skew the column.
		status := fmt.Sprintf("%-8s", string(item.Status))
		switch item.Status {
		case queue.StatusSynced:
			status = ui.RenderPass(status)
		case queue.StatusFailed:
			status = ui.RenderFail(status)
		}
		fmt.Printf("%-5d | %-14s | %s | %3d/%-3d | %-5s | %s\n",
			item.ID,
			truncate(item.Kind, 14),
			status,
			item.RetryCount, item.MaxRetries,
			formatAge(item.CreatedAt),
			truncate(item.LastError, 32))
	}
	fmt.Printf("\n%d item(s)\n", len(items))
}

func runQueueShow(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid item id %q\n", args[0])
		os.Exit(1)
	}
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" && output != "yaml" {
		fmt.Fprintf(os.Stderr, "Error: --output must be 'json' or 'yaml'\n")
		os.Exit(1)
	}

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	item, err := store.Get(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if output != "" {
		emitViews(output, newItemView(item))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Item %d\n\n", ui.RenderAccent("📦"), item.ID)
	fmt.Fprintf(&b, "Kind:     %s\n", item.Kind)
	fmt.Fprintf(&b, "Status:   %s\n", renderStatus(item.Status))
	fmt.Fprintf(&b, "Route:    %s %s\n", item.Method, item.Endpoint)
	fmt.Fprintf(&b, "Created:  %s (%s ago)\n", item.CreatedAt.Local().Format(time.RFC822), formatAge(item.CreatedAt))
	fmt.Fprintf(&b, "Updated:  %s\n", item.UpdatedAt.Local().Format(time.RFC822))
	fmt.Fprintf(&b, "Retries:  %d/%d\n", item.RetryCount, item.MaxRetries)
	if item.SyncedAt != nil {
		fmt.Fprintf(&b, "Synced:   %s\n", item.SyncedAt.Local().Format(time.RFC822))
	}
	if item.LastError != "" {
		fmt.Fprintf(&b, "Error:    %s\n", ui.RenderFail(item.LastError))
	}

	var pretty strings.Builder
	if err := json.Indent(&pretty, item.Payload, "", "  "); err != nil {
		pretty.WriteString(string(item.Payload))
	}
	fmt.Fprintf(&b, "\nPayload:\n%s", pretty.String())

	fmt.Println(ui.RenderPanel(b.String()))
}

func runQueueRequeue(cmd *cobra.Command, args []string) {
	allFailed, _ := cmd.Flags().GetBool("all-failed")
	yes, _ := cmd.Flags().GetBool("yes")

	if !allFailed && len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Error: pass item ids or --all-failed\n")
		os.Exit(1)
	}
	if allFailed && len(args) > 0 {
		fmt.Fprintf(os.Stderr, "Error: --all-failed takes no ids\n")
		os.Exit(1)
	}

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	if allFailed {
		failed, err := store.CountFailed()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting failed items: %v\n", err)
			os.Exit(1)
		}
		if failed == 0 {
			fmt.Printf("%s No failed items to requeue\n", ui.RenderPass("✓"))
			return
		}

		if !yes {
			var confirmed bool
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Requeue %d failed item(s)?", failed)).
				Description("Retry budgets reset to zero; the daemon retries them on its next cycle.").
				Affirmative("Requeue").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil || !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		n, err := store.RequeueAllFailed()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error requeueing items: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Requeued %d item(s)\n", ui.RenderPass("✓"), n)
		return
	}

	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid item id %q\n", arg)
			os.Exit(1)
		}
		if err := store.Requeue(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error requeueing item %d: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("%s Requeued item %d\n", ui.RenderPass("✓"), id)
	}
}

func runQueuePurge(cmd *cobra.Command, args []string) {
	olderThan, _ := cmd.Flags().GetString("older-than")

	cfg := loadConfig()

	now := time.Now()
	cutoff := now.Add(-cfg.Sync.Retention)
	if olderThan != "" {
		var err error
		cutoff, err = parseCutoff(olderThan, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if cutoff.After(now) {
		fmt.Fprintf(os.Stderr, "Error: cutoff %s is in the future\n", cutoff.Local().Format(time.RFC822))
		os.Exit(1)
	}

	store := openStore(cfg)
	defer store.Close()

	n, err := store.PurgeSyncedBefore(cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error purging items: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Purged %d synced item(s) older than %s\n",
		ui.RenderPass("✓"), n, cutoff.Local().Format(time.RFC822))
}

// parseCutoff understands Go durations ("72h") and natural language
// ("2 weeks ago", "last monday").
func parseCutoff(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	res, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if res == nil {
		return time.Time{}, fmt.Errorf("could not understand %q (try \"2 weeks ago\" or 72h)", s)
	}
	return res.Time, nil
}

func runQueueExport(cmd *cobra.Command, args []string) {
	outPath, _ := cmd.Flags().GetString("output")

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	if outPath == "" {
		if _, err := store.ExportJSONL(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting queue: %v\n", err)
			os.Exit(1)
		}
		return
	}

	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", outPath, err)
		os.Exit(1)
	}
	n, err := store.ExportJSONL(f)
	if err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "Error exporting queue: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outPath, err)
		os.Exit(1)
	}
	fmt.Printf("%s Exported %d item(s) to %s\n", ui.RenderPass("✓"), n, outPath)
}

func runQueueImport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	var r *os.File
	if args[0] == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}

	result, err := store.ImportJSONL(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing items: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Imported %d item(s)", ui.RenderPass("✓"), result.ItemsImported)
	if result.Skipped > 0 {
		fmt.Printf(" (%d skipped)", result.Skipped)
	}
	fmt.Println()
	for _, msg := range result.Errors {
		fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), msg)
	}
	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func renderStatus(s queue.Status) string {
	switch s {
	case queue.StatusSynced:
		return ui.RenderPass(string(s))
	case queue.StatusFailed:
		return ui.RenderFail(string(s))
	default:
		return string(s)
	}
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
