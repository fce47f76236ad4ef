package loadtest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jdelhommeau/pointd/internal/queue"
)

// TestCreateTestStore verifies that we can create a test store with the expected properties.
func TestCreateTestStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	ts, err := CreateTestStore(dbPath, 100, 0.4)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	// Verify item counts
	if len(ts.ItemIDs) != 100 {
		t.Errorf("Expected 100 items, got %d", len(ts.ItemIDs))
	}

	// Verify synced percentage is approximately 40%
	syncedPct := float64(len(ts.SyncedIDs)) / float64(ts.TotalItems) * 100
	if syncedPct < 25 || syncedPct > 55 {
		t.Errorf("Expected ~40%% synced items, got %.1f%% (%d/%d)", syncedPct, len(ts.SyncedIDs), ts.TotalItems)
	}

	// Verify pending items exist
	if len(ts.PendingIDs) == 0 {
		t.Error("Expected some pending items, got 0")
	}

	// Verify total adds up
	total := len(ts.PendingIDs) + len(ts.SyncedIDs)
	if total != ts.TotalItems {
		t.Errorf("Pending (%d) + Synced (%d) = %d, expected %d", len(ts.PendingIDs), len(ts.SyncedIDs), total, ts.TotalItems)
	}

	t.Logf("Store created: %d total, %d pending (%.1f%%), %d synced (%.1f%%)",
		ts.TotalItems,
		len(ts.PendingIDs), float64(len(ts.PendingIDs))/float64(ts.TotalItems)*100,
		len(ts.SyncedIDs), syncedPct)
}

// TestCreateTestStore_StaggeredTimes verifies that creation times spread across the population window.
func TestCreateTestStore_StaggeredTimes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	ts, err := CreateTestStore(dbPath, 50, 0)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	pending, err := ts.Store.PendingItems()
	if err != nil {
		t.Fatalf("Failed to get pending items: %v", err)
	}
	if len(pending) != 50 {
		t.Fatalf("Expected 50 pending items, got %d", len(pending))
	}

	first := pending[0].CreatedAt
	last := pending[len(pending)-1].CreatedAt
	if !last.After(first) {
		t.Errorf("Expected staggered creation times, got first=%v last=%v", first, last)
	}
	if spread := last.Sub(first); spread < 40*time.Minute {
		t.Errorf("Expected creation times spread over at least 40m, got %v", spread)
	}
}

// TestConcurrentReads_Small verifies basic concurrent read functionality.
func TestConcurrentReads_Small(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	ts, err := CreateTestStore(dbPath, 100, 0.4)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	// Run 10 concurrent readers, 5 queries each
	stats, err := ts.RunConcurrentReads(10, 5)
	if err != nil {
		t.Fatalf("Concurrent reads failed: %v", err)
	}

	if stats.Errors > 0 {
		t.Errorf("Got %d errors during reads", stats.Errors)
	}

	if stats.TotalQueries != 50 {
		t.Errorf("Expected 50 total queries, got %d", stats.TotalQueries)
	}

	stats.PrintStats()

	// Basic sanity checks
	if stats.Mean > 100*time.Millisecond {
		t.Errorf("Mean query time too high: %v", stats.Mean)
	}
}

// TestConcurrentReads_50Readers validates sustained polling from many readers at once.
func TestConcurrentReads_50Readers(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	t.Log("Creating test store with 500 items...")
	ts, err := CreateTestStore(dbPath, 500, 0.4)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	stats := ts.GetStats()
	t.Logf("Store stats: %+v", stats)

	// Run 50 concurrent readers, each performing 10 queries
	t.Log("Running 50 concurrent readers with 10 queries each...")
	start := time.Now()
	readStats, err := ts.RunConcurrentReads(50, 10)
	totalDuration := time.Since(start)

	if err != nil {
		t.Fatalf("Concurrent reads failed: %v", err)
	}

	if readStats.Errors > 0 {
		t.Errorf("Got %d errors during reads", readStats.Errors)
	}

	t.Logf("\n=== LOAD TEST RESULTS (50 readers, 10 queries each) ===")
	readStats.PrintStats()
	t.Logf("Total test duration: %v", totalDuration)
	t.Logf("Throughput: %.2f queries/second", float64(readStats.TotalQueries)/totalDuration.Seconds())

	// Min latency check - more lenient for CI environments
	if readStats.Min > 50*time.Millisecond {
		t.Errorf("FAILED: Minimum query latency %v exceeds 50ms - base query is too slow", readStats.Min)
	} else if readStats.Min <= 10*time.Millisecond {
		t.Logf("PASSED: Minimum query latency %v is under 10ms (excellent)", readStats.Min)
	} else {
		t.Logf("PASSED: Minimum query latency %v is acceptable (10-50ms)", readStats.Min)
	}

	throughput := float64(readStats.TotalQueries) / totalDuration.Seconds()
	// CI environments can be very slow, so the hard floor is minimal
	if throughput < 25 {
		t.Errorf("FAILED: Throughput %.2f qps is below 25 qps minimum", throughput)
	} else if throughput >= 500 {
		t.Logf("PASSED: Throughput %.2f qps exceeds 500 qps target (excellent)", throughput)
	} else {
		t.Logf("PASSED: Throughput %.2f qps is acceptable for CI (25-500 qps)", throughput)
	}

	// Total duration check - more lenient for CI environments
	if totalDuration > 15*time.Second {
		t.Errorf("FAILED: Total duration %v exceeds 15s for 50 readers", totalDuration)
	} else if totalDuration <= 2*time.Second {
		t.Logf("PASSED: Total test duration %v completes within 2s (excellent)", totalDuration)
	} else {
		t.Logf("PASSED: Total test duration %v is acceptable for CI (2-15s)", totalDuration)
	}

	t.Logf("Query latency - Mean: %v, P50: %v, P95: %v, P99: %v",
		readStats.Mean, readStats.P50, readStats.P95, readStats.P99)
}

// TestNoRaceConditions verifies that concurrent polling and enqueueing don't corrupt data.
func TestNoRaceConditions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	ts, err := CreateTestStore(dbPath, 300, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	pendingBefore, err := ts.Store.CountPending()
	if err != nil {
		t.Fatalf("Failed to count pending items: %v", err)
	}

	// Run 25 readers against a live writer for 2 seconds
	t.Log("Testing for race conditions with 25 readers and a writer for 2 seconds...")
	err = ts.VerifyNoRaceConditions(25, 2*time.Second)
	if err != nil {
		t.Errorf("Race condition detected: %v", err)
	} else {
		t.Log("No race conditions detected")
	}

	// The writer must have landed new items during the run
	pendingAfter, err := ts.Store.CountPending()
	if err != nil {
		t.Fatalf("Failed to count pending items: %v", err)
	}
	if pendingAfter <= pendingBefore {
		t.Errorf("Expected writer to grow the queue, got %d -> %d pending", pendingBefore, pendingAfter)
	} else {
		t.Logf("Writer enqueued %d items during the run", pendingAfter-pendingBefore)
	}
}

// TestDataConsistency verifies that query results are consistent and correct.
func TestDataConsistency(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	ts, err := CreateTestStore(dbPath, 200, 0.4)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	// Get pending items
	pending, err := ts.Store.PendingItems()
	if err != nil {
		t.Fatalf("Failed to get pending items: %v", err)
	}

	syncedMap := make(map[int64]bool)
	for _, id := range ts.SyncedIDs {
		syncedMap[id] = true
	}

	// Verify every pending item has status pending and retry budget left
	for _, item := range pending {
		if item.Status != queue.StatusPending {
			t.Errorf("Pending item %d has status %s, expected 'pending'", item.ID, item.Status)
		}
		if item.RetryCount >= item.MaxRetries {
			t.Errorf("Pending item %d has no retry budget left (%d/%d)", item.ID, item.RetryCount, item.MaxRetries)
		}
		if syncedMap[item.ID] {
			t.Errorf("Item %d appears in pending list but is marked as synced", item.ID)
		}
	}

	// Verify synced items are actually synced
	sample := len(ts.SyncedIDs)
	if sample > 10 {
		sample = 10
	}
	for i := 0; i < sample; i++ {
		item, err := ts.Store.Get(ts.SyncedIDs[i])
		if err != nil {
			t.Errorf("Failed to get synced item %d: %v", ts.SyncedIDs[i], err)
			continue
		}

		if item.Status != queue.StatusSynced {
			t.Errorf("Item %d is marked as synced but has status %s", item.ID, item.Status)
		}
		if item.SyncedAt == nil {
			t.Errorf("Item %d is synced but has no synced_at stamp", item.ID)
		}
	}

	t.Logf("Data consistency verified for %d pending items and %d sample synced items",
		len(pending), sample)
}

// TestLargeStore tests with a larger dataset to validate scalability.
func TestLargeStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large store test in short mode")
	}

	dbPath := filepath.Join(t.TempDir(), "test.db")

	// Create store with 3000 items
	t.Log("Creating large test store with 3000 items...")
	start := time.Now()
	ts, err := CreateTestStore(dbPath, 3000, 0.4)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()
	t.Logf("Store creation took %v", time.Since(start))

	stats := ts.GetStats()
	t.Logf("Store stats: %+v", stats)

	// Run 50 concurrent readers
	t.Log("Running 50 concurrent readers with 10 queries each...")
	queryStart := time.Now()
	readStats, err := ts.RunConcurrentReads(50, 10)
	totalDuration := time.Since(queryStart)

	if err != nil {
		t.Fatalf("Concurrent reads failed: %v", err)
	}

	t.Logf("\n=== LARGE STORE LOAD TEST (3000 items) ===")
	readStats.PrintStats()
	t.Logf("Total test duration: %v", totalDuration)
	t.Logf("Throughput: %.2f queries/second", float64(readStats.TotalQueries)/totalDuration.Seconds())

	// Verify performance still holds with a larger dataset
	if readStats.Mean > 25*time.Millisecond {
		t.Logf("WARNING: Mean query latency %v exceeds 25ms target with large dataset", readStats.Mean)
	} else {
		t.Logf("PASSED: Mean query latency %v is under 25ms target with large dataset", readStats.Mean)
	}
}

// Benchmark functions

// BenchmarkPendingItems_100Items benchmarks pending-work queries with 100 items.
func BenchmarkPendingItems_100Items(b *testing.B) {
	dbPath := filepath.Join(b.TempDir(), "bench.db")

	ts, err := CreateTestStore(dbPath, 100, 0.4)
	if err != nil {
		b.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := ts.Store.PendingItems()
		if err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

// BenchmarkPendingItems_1000Items benchmarks pending-work queries with 1000 items.
func BenchmarkPendingItems_1000Items(b *testing.B) {
	dbPath := filepath.Join(b.TempDir(), "bench.db")

	ts, err := CreateTestStore(dbPath, 1000, 0.4)
	if err != nil {
		b.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := ts.Store.PendingItems()
		if err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

// BenchmarkConcurrentReads_50Readers benchmarks 50 concurrent readers.
func BenchmarkConcurrentReads_50Readers(b *testing.B) {
	dbPath := filepath.Join(b.TempDir(), "bench.db")

	ts, err := CreateTestStore(dbPath, 1000, 0.4)
	if err != nil {
		b.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := ts.RunConcurrentReads(50, 10)
		if err != nil {
			b.Fatalf("Concurrent reads failed: %v", err)
		}
	}
}

// BenchmarkStoreCreation benchmarks the store population process.
func BenchmarkStoreCreation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		dbPath := filepath.Join(b.TempDir(), fmt.Sprintf("bench-%d.db", i))
		b.StartTimer()

		ts, err := CreateTestStore(dbPath, 500, 0.4)
		if err != nil {
			b.Fatalf("Failed to create test store: %v", err)
		}

		b.StopTimer()
		ts.Close()
		os.Remove(dbPath)
		b.StartTimer()
	}
}
