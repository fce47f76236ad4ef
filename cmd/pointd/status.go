package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdelhommeau/pointd/internal/queue"
	"github.com/jdelhommeau/pointd/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "core",
	Short:   "Show queue counts and backend connectivity",
	Long: `Display the current state of the local action queue.

Shows:
  - Queue database location and size
  - Item counts by status (pending, synced, failed)
  - Backend reachability (one probe against the health endpoint)

The counts come straight from the store, so this works whether or not
the daemon is running.`,
	Run: runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "", "Output format: json or yaml (default: human-readable)")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the machine-readable shape behind -o json|yaml.
type statusReport struct {
	Database string `json:"database" yaml:"database"`
	Server   string `json:"server,omitempty" yaml:"server,omitempty"`
	Online   bool   `json:"online" yaml:"online"`
	Pending  int    `json:"pending" yaml:"pending"`
	Failed   int    `json:"failed" yaml:"failed"`
	Synced   int    `json:"synced" yaml:"synced"`
	Total    int    `json:"total" yaml:"total"`
}

func runStatus(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" && output != "yaml" {
		fmt.Fprintf(os.Stderr, "Error: --output must be 'json' or 'yaml'\n")
		os.Exit(1)
	}

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading queue stats: %v\n", err)
		os.Exit(1)
	}

	report := statusReport{
		Database: cfg.DBPath,
		Server:   cfg.ServerURL,
		Online:   probeOnce(cfg.ProbeTarget()),
		Pending:  stats[string(queue.StatusPending)],
		Failed:   stats[string(queue.StatusFailed)],
		Synced:   stats[string(queue.StatusSynced)],
	}
	report.Total = report.Pending + report.Failed + report.Synced

	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding YAML: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Close()
	default:
		printStatusPanel(cfg.DBPath, report)
	}
}

// probeOnce issues a single HEAD request against the health endpoint.
// Any response below 500 counts as reachable, matching the daemon's
// monitor.
func probeOnce(url string) bool {
	if url == "" {
		return false
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

func printStatusPanel(dbPath string, report statusReport) {
	connectivity := ui.RenderFail("offline")
	if report.Online {
		connectivity = ui.RenderPass("online")
	}
	if report.Server == "" {
		connectivity = ui.RenderWarn("no server configured")
	}

	sizeStr := "not created"
	if info, err := os.Stat(dbPath); err == nil {
		size := info.Size()
		sizeStr = fmt.Sprintf("%d bytes", size)
		if size > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
		} else if size > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s pointd status\n\n", ui.RenderAccent("📊"))
	fmt.Fprintf(&b, "Queue:   %s (%s)\n", report.Database, sizeStr)
	if report.Server != "" {
		fmt.Fprintf(&b, "Server:  %s\n", report.Server)
	}
	fmt.Fprintf(&b, "Backend: %s\n\n", connectivity)
	fmt.Fprintf(&b, "Pending: %d\n", report.Pending)
	if report.Failed > 0 {
		fmt.Fprintf(&b, "Failed:  %s\n", ui.RenderFail(fmt.Sprintf("%d", report.Failed)))
	} else {
		fmt.Fprintf(&b, "Failed:  %d\n", report.Failed)
	}
	fmt.Fprintf(&b, "Synced:  %d\n", report.Synced)
	fmt.Fprintf(&b, "Total:   %d", report.Total)

	fmt.Println(ui.RenderPanel(b.String()))

	if report.Failed > 0 {
		fmt.Printf("\n%s %d item(s) exhausted their retries. Inspect with 'pointd queue list --status failed'\n",
			ui.RenderWarn("⚠"), report.Failed)
	}
}
