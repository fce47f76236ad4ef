// Package loadtest provides load testing utilities for the queue store.
//
// This package simulates concurrent polling access patterns to validate
// that the store can handle dozens of simultaneous pending-work readers
// with low query latency while a writer keeps appending items.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jdelhommeau/pointd/internal/action"
	"github.com/jdelhommeau/pointd/internal/queue"
)

// TestStore represents a populated store for load testing.
type TestStore struct {
	Store      *queue.Store
	ItemIDs    []int64
	PendingIDs []int64
	SyncedIDs  []int64
	TotalItems int
	SyncedPct  float64
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestStore creates a new test store with the specified number of items.
//
// The store is populated with:
//   - Items with a realistic kind mix (weighted toward clock events)
//   - Creation times staggered over the past month
//   - A fraction of items already marked synced
//
// The syncedPct parameter controls what percentage of items should already
// be synced (typical: 0.4 for 40%).
func CreateTestStore(dbPath string, numItems int, syncedPct float64) (*TestStore, error) {
	store, err := queue.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Widen the connection pool for high concurrency testing. An
	// in-memory store keeps its single shared connection.
	if dbPath != ":memory:" {
		store.RawDB().SetMaxOpenConns(150)
		store.RawDB().SetMaxIdleConns(50)
		store.RawDB().SetConnMaxLifetime(10 * time.Minute)
	}

	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ts := &TestStore{
		Store:      store,
		ItemIDs:    make([]int64, 0, numItems),
		PendingIDs: make([]int64, 0),
		SyncedIDs:  make([]int64, 0),
		TotalItems: numItems,
		SyncedPct:  syncedPct,
	}

	// Insert items one by one; the store stamps creation times itself, so
	// they are staggered with a direct update after each insert.
	items := generateItems(numItems)
	baseTime := time.Now().UTC().Add(-30 * 24 * time.Hour) // 30 days ago
	for i, item := range items {
		id, err := store.Enqueue(item)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to insert item %d: %w", i, err)
		}

		createdAt := baseTime.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		_, err = store.RawDB().Exec(
			"UPDATE queue_items SET created_at = ?, updated_at = ? WHERE id = ?",
			createdAt, createdAt, id,
		)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to stagger item %d: %w", id, err)
		}

		ts.ItemIDs = append(ts.ItemIDs, id)
	}

	// Mark a fraction of items synced to approximate a store mid-flight.
	for _, id := range pickSynced(ts.ItemIDs, syncedPct) {
		if err := store.MarkSynced(id); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to mark item %d synced: %w", id, err)
		}
	}

	// Identify which items are pending and which are synced.
	pending, err := store.PendingItems()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to get pending items: %w", err)
	}

	pendingMap := make(map[int64]bool)
	for _, item := range pending {
		pendingMap[item.ID] = true
		ts.PendingIDs = append(ts.PendingIDs, item.ID)
	}

	for _, id := range ts.ItemIDs {
		if !pendingMap[id] {
			ts.SyncedIDs = append(ts.SyncedIDs, id)
		}
	}

	return ts, nil
}

// Close closes the test store connection.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// RunConcurrentReads simulates N concurrent readers polling for pending work.
//
// Each reader performs queriesPerReader queries, recording latency for each.
// Returns aggregated latency statistics.
func (ts *TestStore) RunConcurrentReads(numReaders int, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	var allDurations []time.Duration
	var errorCount int

	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, queriesPerReader)
			ctx := context.Background()

			for j := 0; j < queriesPerReader; j++ {
				start := time.Now()

				_, err := ts.Store.PendingItemsContext(ctx)
				elapsed := time.Since(start)

				durations = append(durations, elapsed)

				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			errorCount++
			fmt.Printf("Error: %v\n", err)
		}
	}

	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount

	return stats, nil
}

// generateItems creates a slice of test items with a realistic distribution.
func generateItems(count int) []*queue.Item {
	items := make([]*queue.Item, count)

	// Kind distribution: weighted toward clock events.
	// clock-in: 40%, clock-out: 40%, entry-update: 15%, entry-delete: 5%
	kindSlots := []action.Kind{
		action.KindClockIn, action.KindClockIn, action.KindClockIn, action.KindClockIn,
		action.KindClockIn, action.KindClockIn, action.KindClockIn, action.KindClockIn,
		action.KindClockOut, action.KindClockOut, action.KindClockOut, action.KindClockOut,
		action.KindClockOut, action.KindClockOut, action.KindClockOut, action.KindClockOut,
		action.KindEntryUpdate, action.KindEntryUpdate, action.KindEntryUpdate,
		action.KindEntryDelete,
	}

	baseTime := time.Now().UTC().Add(-30 * 24 * time.Hour)

	for i := 0; i < count; i++ {
		kind := kindSlots[i%len(kindSlots)]
		stamp := baseTime.Add(time.Duration(i) * time.Minute)
		employee := fmt.Sprintf("emp-%03d", i%25)

		var p action.Payload
		switch kind {
		case action.KindClockIn:
			clockIn := &action.ClockIn{EmployeeID: employee, Timestamp: stamp}
			if i%3 == 0 {
				clockIn.Site = fmt.Sprintf("site-%d", i%4)
			}
			p = clockIn
		case action.KindClockOut:
			p = &action.ClockOut{EmployeeID: employee, Timestamp: stamp}
		case action.KindEntryUpdate:
			note := fmt.Sprintf("load item %d", i)
			p = &action.EntryUpdate{EntryID: int64(1000 + i), Note: note}
		case action.KindEntryDelete:
			p = &action.EntryDelete{EntryID: int64(1000 + i)}
		}

		payload, err := action.Marshal(p)
		if err != nil {
			// Generated payloads always satisfy their own validators.
			panic(fmt.Sprintf("loadtest: generated invalid %s payload: %v", kind, err))
		}

		items[i] = &queue.Item{
			Kind:     string(p.Kind()),
			Payload:  payload,
			Endpoint: p.Endpoint(),
			Method:   p.Method(),
		}
	}

	return items
}

// pickSynced selects item ids to pre-mark as synced, approximately matching
// the target fraction.
func pickSynced(ids []int64, syncedPct float64) []int64 {
	if syncedPct <= 0 || syncedPct >= 1 {
		return nil
	}

	// Use deterministic random for reproducibility
	rng := rand.New(rand.NewSource(42))

	picked := make([]int64, 0, int(float64(len(ids))*syncedPct))
	for _, id := range ids {
		if rng.Float64() < syncedPct {
			picked = append(picked, id)
		}
	}

	return picked
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	// Calculate mean
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	// Calculate percentiles
	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         mean,
		P50:          p50,
		P95:          p95,
		P99:          p99,
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Queries: %d\n", s.TotalQueries)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}

// VerifyNoRaceConditions runs concurrent readers against a live writer.
//
// Readers poll for pending work and check every row they see for
// corruption while a writer keeps enqueueing new items, verifying that
// the store handles mixed access correctly.
func (ts *TestStore) VerifyNoRaceConditions(numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numReaders+1)

	// Launch readers
	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				default:
					items, err := ts.Store.PendingItemsContext(ctx)
					if err != nil && ctx.Err() == nil {
						errorsChan <- fmt.Errorf("reader %d query failed: %w", readerID, err)
						return
					}

					// Verify row consistency and ordering
					var prev *queue.Item
					for _, item := range items {
						if item.ID == 0 {
							errorsChan <- fmt.Errorf("reader %d found item with zero id", readerID)
							return
						}
						if item.Status != queue.StatusPending {
							errorsChan <- fmt.Errorf("reader %d found non-pending item in pending list: %d (status: %s)", readerID, item.ID, item.Status)
							return
						}
						if item.RetryCount >= item.MaxRetries {
							errorsChan <- fmt.Errorf("reader %d found exhausted item in pending list: %d (%d/%d retries)", readerID, item.ID, item.RetryCount, item.MaxRetries)
							return
						}
						if prev != nil {
							if prev.CreatedAt.After(item.CreatedAt) {
								errorsChan <- fmt.Errorf("reader %d saw out-of-order items: %d before %d", readerID, prev.ID, item.ID)
								return
							}
							if prev.CreatedAt.Equal(item.CreatedAt) && prev.ID > item.ID {
								errorsChan <- fmt.Errorf("reader %d saw id-order violation: %d before %d", readerID, prev.ID, item.ID)
								return
							}
						}
						prev = item
					}

					// Small sleep to avoid hammering
					time.Sleep(1 * time.Millisecond)
				}
			}
		}(i)
	}

	// Launch the writer that keeps appending while readers poll
	wg.Add(1)
	go func() {
		defer wg.Done()

		seq := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
				payload, err := action.Marshal(&action.ClockIn{
					EmployeeID: fmt.Sprintf("emp-writer-%02d", seq%10),
					Timestamp:  time.Now().UTC(),
				})
				if err != nil {
					errorsChan <- fmt.Errorf("writer payload failed: %w", err)
					return
				}

				item := &queue.Item{
					Kind:     string(action.KindClockIn),
					Payload:  payload,
					Endpoint: "/api/v1/clock-in",
					Method:   "POST",
				}
				if _, err := ts.Store.EnqueueContext(ctx, item); err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer enqueue %d failed: %w", seq, err)
					return
				}
				seq++

				time.Sleep(2 * time.Millisecond)
			}
		}
	}()

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}

	return nil
}

// GetStats returns statistics about the test store.
func (ts *TestStore) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_items":     ts.TotalItems,
		"pending_items":   len(ts.PendingIDs),
		"synced_items":    len(ts.SyncedIDs),
		"pending_percent": float64(len(ts.PendingIDs)) / float64(ts.TotalItems) * 100,
		"synced_percent":  float64(len(ts.SyncedIDs)) / float64(ts.TotalItems) * 100,
	}
}
