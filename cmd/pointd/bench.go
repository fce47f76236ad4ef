package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdelhommeau/pointd/internal/loadtest"
	"github.com/jdelhommeau/pointd/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Benchmark queue reads under concurrent load",
	Long: `Measure pending-scan latency under concurrent readers.

The benchmark seeds a throwaway database in a temp directory, runs
the configured number of clients against it and reports latency
percentiles and throughput. With --duration it finishes by replaying
reads against a live writer and checking for ordering or visibility
anomalies. The configured queue is never touched.

Example usage:
  pointd bench
  pointd bench --items 5000 --clients 100
  pointd bench --duration 5s
  pointd bench --json`,
	Run: runBench,
}

func init() {
	benchCmd.Flags().Int("items", 1000, "Items to seed the throwaway queue with")
	benchCmd.Flags().Int("clients", 50, "Concurrent readers to simulate")
	benchCmd.Flags().Int("queries", 10, "Pending scans per reader")
	benchCmd.Flags().Float64("synced", 0.4, "Fraction of seeded items already synced (0.0-1.0)")
	benchCmd.Flags().Duration("duration", 2*time.Second, "Consistency check length (0 to skip)")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

// benchReport is the --json shape. Latencies are milliseconds.
type benchReport struct {
	Items            int     `json:"items"`
	SyncedPct        float64 `json:"synced_pct"`
	Clients          int     `json:"clients"`
	QueriesPerClient int     `json:"queries_per_client"`
	TotalQueries     int     `json:"total_queries"`
	Errors           int     `json:"errors"`
	ElapsedMs        float64 `json:"elapsed_ms"`
	ThroughputQPS    float64 `json:"throughput_qps"`
	MinMs            float64 `json:"min_ms"`
	MeanMs           float64 `json:"mean_ms"`
	P50Ms            float64 `json:"p50_ms"`
	P95Ms            float64 `json:"p95_ms"`
	P99Ms            float64 `json:"p99_ms"`
	MaxMs            float64 `json:"max_ms"`
	RaceCheck        string  `json:"race_check"`
}

func runBench(cmd *cobra.Command, args []string) {
	items, _ := cmd.Flags().GetInt("items")
	clients, _ := cmd.Flags().GetInt("clients")
	queries, _ := cmd.Flags().GetInt("queries")
	synced, _ := cmd.Flags().GetFloat64("synced")
	duration, _ := cmd.Flags().GetDuration("duration")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Validate flags
	if items <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --items must be positive\n")
		os.Exit(1)
	}
	if clients <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --clients must be positive\n")
		os.Exit(1)
	}
	if queries <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --queries must be positive\n")
		os.Exit(1)
	}
	if synced < 0 || synced > 1 {
		fmt.Fprintf(os.Stderr, "Error: --synced must be between 0.0 and 1.0\n")
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "pointd-bench-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating temp directory: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	if !jsonOutput {
		fmt.Printf("%s Running queue read benchmark\n", ui.RenderAccent("📊"))
		fmt.Printf("Configuration: %d items, %d clients, %d queries/client, %.0f%% synced\n\n",
			items, clients, queries, synced*100)
		fmt.Printf("Seeding throwaway queue...\n")
	}

	ts, err := loadtest.CreateTestStore(filepath.Join(tmpDir, "bench.db"), items, synced)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding benchmark queue: %v\n", err)
		os.Exit(1)
	}
	defer ts.Close()

	if !jsonOutput {
		fmt.Printf("Running %d concurrent reader(s)...\n\n", clients)
	}

	start := time.Now()
	stats, err := ts.RunConcurrentReads(clients, queries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running benchmark: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)
	throughput := float64(stats.TotalQueries) / elapsed.Seconds()

	raceCheck := "skipped"
	var raceErr error
	if duration > 0 {
		if !jsonOutput {
			fmt.Printf("Checking read consistency against a live writer for %s...\n", duration)
		}
		raceErr = ts.VerifyNoRaceConditions(clients, duration)
		if raceErr != nil {
			raceCheck = raceErr.Error()
		} else {
			raceCheck = "passed"
		}
	}

	if jsonOutput {
		report := benchReport{
			Items:            items,
			SyncedPct:        synced,
			Clients:          clients,
			QueriesPerClient: queries,
			TotalQueries:     stats.TotalQueries,
			Errors:           stats.Errors,
			ElapsedMs:        durationMs(elapsed),
			ThroughputQPS:    throughput,
			MinMs:            durationMs(stats.Min),
			MeanMs:           durationMs(stats.Mean),
			P50Ms:            durationMs(stats.P50),
			P95Ms:            durationMs(stats.P95),
			P99Ms:            durationMs(stats.P99),
			MaxMs:            durationMs(stats.Max),
			RaceCheck:        raceCheck,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		stats.PrintStats()
		fmt.Printf("\nThroughput: %.1f queries/sec over %v\n", throughput, elapsed.Round(time.Millisecond))
		if raceErr != nil {
			fmt.Printf("%s Consistency check failed: %v\n", ui.RenderFail("✗"), raceErr)
		} else if duration > 0 {
			fmt.Printf("%s Consistency check passed\n", ui.RenderPass("✓"))
		}
	}

	if stats.Errors > 0 || raceErr != nil {
		os.Exit(1)
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
