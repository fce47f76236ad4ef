package queue

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testStorePath returns a temporary path for test databases
func testStorePath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// setupTestStore opens a store with the schema initialized
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	return s
}

// enqueueTestItem inserts a minimal valid item and returns its id
func enqueueTestItem(t *testing.T, s *Store, kind string) int64 {
	t.Helper()

	id, err := s.Enqueue(&Item{
		Kind:     kind,
		Payload:  json.RawMessage(`{"employee_id":"emp-1"}`),
		Endpoint: "/api/v1/" + kind,
		Method:   "POST",
	})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return id
}

// backdateItem rewrites an item's creation timestamp directly
func backdateItem(t *testing.T, s *Store, id int64, createdAt time.Time) {
	t.Helper()

	_, err := s.conn.Exec(
		"UPDATE queue_items SET created_at = ? WHERE id = ?",
		createdAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		t.Fatalf("failed to backdate item %d: %v", id, err)
	}
}

// TestOpen_Success tests store creation and initialization
func TestOpen_Success(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s == nil {
		t.Fatal("Open() returned nil store")
	}

	if s.path != path {
		t.Errorf("path = %q, want %q", s.path, path)
	}
}

// TestOpen_InMemory tests the throwaway in-memory mode
func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	if _, err := s.Enqueue(&Item{Kind: "clock-in", Endpoint: "/a", Method: "POST"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	count, err := s.CountPending()
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("CountPending() = %d, want 1", count)
	}
}

// TestInitSchema_Success tests schema creation
func TestInitSchema_Success(t *testing.T) {
	s := setupTestStore(t)

	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
	if err := s.conn.QueryRow(query, "queue_items").Scan(&count); err != nil {
		t.Fatalf("Failed to query table: %v", err)
	}
	if count != 1 {
		t.Error("Table queue_items does not exist")
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	s := setupTestStore(t)

	if err := s.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

// TestEnqueue tests inserting a new item
func TestEnqueue(t *testing.T) {
	s := setupTestStore(t)

	item := &Item{
		Kind:     "clock-in",
		Payload:  json.RawMessage(`{"employee_id":"emp-42","site":"lyon"}`),
		Endpoint: "/api/v1/clock-in",
		Method:   "POST",
	}

	id, err := s.Enqueue(item)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if item.Status != StatusPending {
		t.Errorf("Status = %q, want %q", item.Status, StatusPending)
	}
	if item.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", item.RetryCount)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// Verify the row directly
	var kind, status string
	var retryCount int
	query := `SELECT kind, status, retry_count FROM queue_items WHERE id = ?`
	if err := s.conn.QueryRow(query, id).Scan(&kind, &status, &retryCount); err != nil {
		t.Fatalf("Failed to query item: %v", err)
	}
	if kind != "clock-in" {
		t.Errorf("kind = %q, want 'clock-in'", kind)
	}
	if status != "pending" {
		t.Errorf("status = %q, want 'pending'", status)
	}
	if retryCount != 0 {
		t.Errorf("retry_count = %d, want 0", retryCount)
	}
}

// TestEnqueue_Validation tests rejection of incomplete items
func TestEnqueue_Validation(t *testing.T) {
	s := setupTestStore(t)

	tests := []struct {
		name string
		item *Item
	}{
		{
			name: "missing kind",
			item: &Item{Endpoint: "/api/v1/clock-in", Method: "POST"},
		},
		{
			name: "missing endpoint",
			item: &Item{Kind: "clock-in", Method: "POST"},
		},
		{
			name: "missing method",
			item: &Item{Kind: "clock-in", Endpoint: "/api/v1/clock-in"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Enqueue(tt.item); err == nil {
				t.Error("Enqueue() succeeded, want validation error")
			}
		})
	}
}

// TestEnqueue_Defaults tests retry budget and payload defaults
func TestEnqueue_Defaults(t *testing.T) {
	s := setupTestStore(t)

	item := &Item{Kind: "clock-out", Endpoint: "/api/v1/clock-out", Method: "POST"}
	id, err := s.Enqueue(item)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if got.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", got.MaxRetries, DefaultMaxRetries)
	}
	if string(got.Payload) != "{}" {
		t.Errorf("Payload = %q, want '{}'", got.Payload)
	}
}

// TestPendingItems_Order tests FIFO enumeration
func TestPendingItems_Order(t *testing.T) {
	s := setupTestStore(t)

	kinds := []string{"clock-in", "entry-update", "clock-out"}
	ids := make([]int64, 0, len(kinds))
	for _, kind := range kinds {
		ids = append(ids, enqueueTestItem(t, s, kind))
	}

	items, err := s.PendingItems()
	if err != nil {
		t.Fatalf("PendingItems() failed: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("PendingItems() returned %d items, want 3", len(items))
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Errorf("items[%d].ID = %d, want %d", i, item.ID, ids[i])
		}
		if item.Kind != kinds[i] {
			t.Errorf("items[%d].Kind = %q, want %q", i, item.Kind, kinds[i])
		}
	}
}

// TestPendingItems_ExcludesDelivered tests that synced and failed items drop out
func TestPendingItems_ExcludesDelivered(t *testing.T) {
	s := setupTestStore(t)

	syncedID := enqueueTestItem(t, s, "clock-in")
	pendingID := enqueueTestItem(t, s, "clock-out")
	failedID := enqueueTestItem(t, s, "entry-delete")

	if err := s.MarkSynced(syncedID); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	for i := 0; i < DefaultMaxRetries; i++ {
		if _, _, err := s.RecordFailure(failedID, "connection refused"); err != nil {
			t.Fatalf("RecordFailure() failed: %v", err)
		}
	}

	items, err := s.PendingItems()
	if err != nil {
		t.Fatalf("PendingItems() failed: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("PendingItems() returned %d items, want 1", len(items))
	}
	if items[0].ID != pendingID {
		t.Errorf("remaining pending item = %d, want %d", items[0].ID, pendingID)
	}
}

// TestCountPending tests the queue depth counter
func TestCountPending(t *testing.T) {
	s := setupTestStore(t)

	for i := 0; i < 4; i++ {
		enqueueTestItem(t, s, "clock-in")
	}

	count, err := s.CountPending()
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	if count != 4 {
		t.Errorf("CountPending() = %d, want 4", count)
	}
}

// TestMarkSynced tests the pending to synced transition
func TestMarkSynced(t *testing.T) {
	s := setupTestStore(t)
	id := enqueueTestItem(t, s, "clock-in")

	if err := s.MarkSynced(id); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusSynced {
		t.Errorf("Status = %q, want %q", got.Status, StatusSynced)
	}
	if got.SyncedAt == nil {
		t.Error("SyncedAt not set")
	}

	// The transition happens exactly once
	if err := s.MarkSynced(id); err == nil {
		t.Error("second MarkSynced() succeeded, want error")
	}
}

// TestRecordFailure_Progression tests retry bookkeeping through to terminal state
func TestRecordFailure_Progression(t *testing.T) {
	s := setupTestStore(t)
	id := enqueueTestItem(t, s, "clock-in")

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		cause := fmt.Sprintf("attempt %d: connection refused", attempt)
		count, failed, err := s.RecordFailure(id, cause)
		if err != nil {
			t.Fatalf("RecordFailure(attempt %d) failed: %v", attempt, err)
		}
		if count != attempt {
			t.Errorf("retry count = %d, want %d", count, attempt)
		}

		wantFailed := attempt == DefaultMaxRetries
		if failed != wantFailed {
			t.Errorf("attempt %d: failed = %v, want %v", attempt, failed, wantFailed)
		}
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, StatusFailed)
	}
	if got.RetryCount != DefaultMaxRetries {
		t.Errorf("RetryCount = %d, want %d", got.RetryCount, DefaultMaxRetries)
	}
	if !strings.Contains(got.LastError, "connection refused") {
		t.Errorf("LastError = %q, want connection refused diagnostic", got.LastError)
	}

	// Terminal items take no further failures
	if _, _, err := s.RecordFailure(id, "again"); err == nil {
		t.Error("RecordFailure() on failed item succeeded, want error")
	}
}

// TestRequeue tests resetting a dead-lettered item
func TestRequeue(t *testing.T) {
	s := setupTestStore(t)
	id := enqueueTestItem(t, s, "clock-in")

	for i := 0; i < DefaultMaxRetries; i++ {
		if _, _, err := s.RecordFailure(id, "boom"); err != nil {
			t.Fatalf("RecordFailure() failed: %v", err)
		}
	}

	if err := s.Requeue(id); err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty", got.LastError)
	}
}

// TestRequeue_NotFailed tests that only failed items can be requeued
func TestRequeue_NotFailed(t *testing.T) {
	s := setupTestStore(t)
	id := enqueueTestItem(t, s, "clock-in")

	if err := s.Requeue(id); err == nil {
		t.Error("Requeue() of pending item succeeded, want error")
	}
}

// TestRequeueAllFailed tests the bulk reset
func TestRequeueAllFailed(t *testing.T) {
	s := setupTestStore(t)

	for i := 0; i < 2; i++ {
		id := enqueueTestItem(t, s, "clock-in")
		for j := 0; j < DefaultMaxRetries; j++ {
			if _, _, err := s.RecordFailure(id, "boom"); err != nil {
				t.Fatalf("RecordFailure() failed: %v", err)
			}
		}
	}
	enqueueTestItem(t, s, "clock-out")

	n, err := s.RequeueAllFailed()
	if err != nil {
		t.Fatalf("RequeueAllFailed() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("RequeueAllFailed() = %d, want 2", n)
	}

	count, err := s.CountPending()
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("CountPending() = %d, want 3", count)
	}
}

// TestPurgeSyncedBefore tests retention cleanup
func TestPurgeSyncedBefore(t *testing.T) {
	s := setupTestStore(t)

	oldSynced := enqueueTestItem(t, s, "clock-in")
	recentSynced := enqueueTestItem(t, s, "clock-out")
	oldPending := enqueueTestItem(t, s, "entry-update")

	if err := s.MarkSynced(oldSynced); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	if err := s.MarkSynced(recentSynced); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	now := time.Now().UTC()
	backdateItem(t, s, oldSynced, now.Add(-25*time.Hour))
	backdateItem(t, s, recentSynced, now.Add(-1*time.Hour))
	backdateItem(t, s, oldPending, now.Add(-72*time.Hour))

	deleted, err := s.PurgeSyncedBefore(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PurgeSyncedBefore() failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("PurgeSyncedBefore() deleted %d items, want 1", deleted)
	}

	if _, err := s.Get(oldSynced); err != sql.ErrNoRows {
		t.Errorf("old synced item still present, err = %v", err)
	}
	if _, err := s.Get(recentSynced); err != nil {
		t.Errorf("recent synced item purged: %v", err)
	}
	// Unsynced items are never purged, regardless of age
	if _, err := s.Get(oldPending); err != nil {
		t.Errorf("old pending item purged: %v", err)
	}
}

// TestClear tests deleting every item
func TestClear(t *testing.T) {
	s := setupTestStore(t)

	for i := 0; i < 3; i++ {
		enqueueTestItem(t, s, "clock-in")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}

	count, err := s.CountPending()
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("CountPending() = %d, want 0", count)
	}
}

// TestGet tests single item retrieval
func TestGet(t *testing.T) {
	s := setupTestStore(t)
	id := enqueueTestItem(t, s, "clock-in")

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if got.ID != id {
		t.Errorf("ID = %d, want %d", got.ID, id)
	}
	if got.Kind != "clock-in" {
		t.Errorf("Kind = %q, want 'clock-in'", got.Kind)
	}
	if got.Endpoint != "/api/v1/clock-in" {
		t.Errorf("Endpoint = %q, want '/api/v1/clock-in'", got.Endpoint)
	}
	if got.Method != "POST" {
		t.Errorf("Method = %q, want 'POST'", got.Method)
	}

	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload["employee_id"] != "emp-1" {
		t.Errorf("payload employee_id = %q, want 'emp-1'", payload["employee_id"])
	}
}

// TestGet_NotFound tests error handling for missing items
func TestGet_NotFound(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Get(9999); err != sql.ErrNoRows {
		t.Errorf("Get() err = %v, want sql.ErrNoRows", err)
	}
}

// TestStats tests per-status counts
func TestStats(t *testing.T) {
	s := setupTestStore(t)

	syncedID := enqueueTestItem(t, s, "clock-in")
	enqueueTestItem(t, s, "clock-out")
	failedID := enqueueTestItem(t, s, "entry-delete")

	if err := s.MarkSynced(syncedID); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	for i := 0; i < DefaultMaxRetries; i++ {
		if _, _, err := s.RecordFailure(failedID, "boom"); err != nil {
			t.Fatalf("RecordFailure() failed: %v", err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}

	want := map[string]int{"pending": 1, "synced": 1, "failed": 1}
	for status, count := range want {
		if stats[status] != count {
			t.Errorf("stats[%q] = %d, want %d", status, stats[status], count)
		}
	}
}

// TestList tests filtering and pagination
func TestList(t *testing.T) {
	s := setupTestStore(t)

	enqueueTestItem(t, s, "clock-in")
	enqueueTestItem(t, s, "clock-in")
	syncedID := enqueueTestItem(t, s, "clock-out")
	if err := s.MarkSynced(syncedID); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	t.Run("FilterByStatus", func(t *testing.T) {
		result, err := s.List(Filter{Status: StatusSynced})
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		if len(result) != 1 {
			t.Errorf("expected 1 synced item, got %d", len(result))
		}
	})

	t.Run("FilterByKind", func(t *testing.T) {
		result, err := s.List(Filter{Kind: "clock-in"})
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		if len(result) != 2 {
			t.Errorf("expected 2 clock-in items, got %d", len(result))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		result, err := s.List(Filter{Limit: 2})
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		if len(result) != 2 {
			t.Errorf("expected 2 items with limit, got %d", len(result))
		}
	})

	t.Run("Offset", func(t *testing.T) {
		result, err := s.List(Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		if len(result) != 1 {
			t.Errorf("expected 1 item with offset, got %d", len(result))
		}
	})
}

// TestPersistenceError tests that store failures carry the typed error
func TestPersistenceError(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Schema deliberately not initialized
	_, err = s.Enqueue(&Item{Kind: "clock-in", Endpoint: "/a", Method: "POST"})
	if err == nil {
		t.Fatal("Enqueue() without schema succeeded, want error")
	}

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Errorf("error %v is not a PersistenceError", err)
	}
	if perr.Op != "enqueue" {
		t.Errorf("Op = %q, want 'enqueue'", perr.Op)
	}
}

// TestExportImportJSONL tests the backup round trip
func TestExportImportJSONL(t *testing.T) {
	s := setupTestStore(t)

	syncedID := enqueueTestItem(t, s, "clock-in")
	enqueueTestItem(t, s, "clock-out")
	if err := s.MarkSynced(syncedID); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	var buf bytes.Buffer
	n, err := s.ExportJSONL(&buf)
	if err != nil {
		t.Fatalf("ExportJSONL() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("ExportJSONL() = %d, want 2", n)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}

	result, err := s.ImportJSONL(&buf)
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if result.ItemsImported != 2 {
		t.Errorf("ItemsImported = %d, want 2", result.ItemsImported)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats["synced"] != 1 || stats["pending"] != 1 {
		t.Errorf("stats after import = %v, want 1 synced and 1 pending", stats)
	}
}

// TestImportJSONL_SkipsInvalid tests that bad lines don't abort the import
func TestImportJSONL_SkipsInvalid(t *testing.T) {
	s := setupTestStore(t)

	input := strings.Join([]string{
		`{"kind":"clock-in","endpoint":"/api/v1/clock-in","method":"POST","payload":{}}`,
		`{"kind":"","endpoint":"","method":""}`,
		`{"kind":"clock-out","endpoint":"/api/v1/clock-out","method":"POST","payload":{}}`,
	}, "\n")

	result, err := s.ImportJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}

	if result.ItemsImported != 2 {
		t.Errorf("ItemsImported = %d, want 2", result.ItemsImported)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", result.Errors)
	}
}

// BenchmarkEnqueue benchmarks item insertion
func BenchmarkEnqueue(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.db")
	s, err := Open(path)
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := s.Enqueue(&Item{
			Kind:     "clock-in",
			Payload:  json.RawMessage(`{"employee_id":"emp-1"}`),
			Endpoint: "/api/v1/clock-in",
			Method:   "POST",
		})
		if err != nil {
			b.Fatalf("Enqueue() failed: %v", err)
		}
	}
}

// BenchmarkPendingItems benchmarks the pending scan
func BenchmarkPendingItems(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.db")
	s, err := Open(path)
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}

	for i := 0; i < 500; i++ {
		_, err := s.Enqueue(&Item{
			Kind:     "clock-in",
			Payload:  json.RawMessage(`{"employee_id":"emp-1"}`),
			Endpoint: "/api/v1/clock-in",
			Method:   "POST",
		})
		if err != nil {
			b.Fatalf("Enqueue() failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.PendingItems(); err != nil {
			b.Fatalf("PendingItems() failed: %v", err)
		}
	}
}
