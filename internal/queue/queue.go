// Package queue provides the durable action queue backing the sync engine.
//
// The queue is a local SQLite database (default: ~/.pointd/pointd.db) that
// persists punch-clock actions across process restarts. Actions are written
// while the network may be unavailable and drained by the sync engine once
// connectivity returns.
//
// Architecture:
//   - Database file: ~/.pointd/pointd.db
//   - WAL mode: concurrent readers during writes
//   - Schema: queue_items table
//   - Index: (status, created_at) for pending scans and retention cleanup
//
// Item lifecycle:
//  1. A producer (API call, CLI, spool watcher) enqueues an item as 'pending'
//  2. The sync engine delivers pending items in creation order
//  3. Delivery success marks the item 'synced'; failures increment retry_count
//  4. An item that exhausts max_retries becomes 'failed' and is excluded
//     from automatic retry until an operator requeues it
//  5. Retention cleanup deletes synced items past the retention window
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Status describes where an item is in its delivery lifecycle.
type Status string

const (
	// StatusPending means the item has not been delivered yet and is
	// eligible for automatic sync.
	StatusPending Status = "pending"

	// StatusSynced means the remote accepted the item. Terminal.
	StatusSynced Status = "synced"

	// StatusFailed means the item exhausted its retry budget. Terminal for
	// automatic sync; an operator may requeue it.
	StatusFailed Status = "failed"
)

// Item is one durably persisted unit of synchronization work.
type Item struct {
	// ID is assigned by the store, monotonically increasing.
	ID int64 `json:"id"`

	// Kind names the action variant (clock-in, clock-out, ...).
	Kind string `json:"kind"`

	// Payload is the JSON document delivered to the remote endpoint.
	Payload json.RawMessage `json:"payload"`

	// Endpoint and Method describe where and how to deliver the payload.
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// RetryCount is the number of failed delivery attempts so far.
	// It only increases.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the ceiling past which the item is marked failed.
	MaxRetries int `json:"max_retries"`

	Status Status `json:"status"`

	// SyncedAt is set once, when delivery succeeds.
	SyncedAt *time.Time `json:"synced_at,omitempty"`

	// LastError holds the diagnostic from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`
}

// DefaultMaxRetries is applied when an item is enqueued without an
// explicit retry budget.
const DefaultMaxRetries = 3

// Validate checks that an item is complete enough to enqueue.
func (it *Item) Validate() error {
	if it.Kind == "" {
		return fmt.Errorf("item kind is required")
	}
	if it.Endpoint == "" {
		return fmt.Errorf("item endpoint is required")
	}
	if it.Method == "" {
		return fmt.Errorf("item method is required")
	}
	return nil
}

// PersistenceError wraps a local store read/write failure. Callers of
// enqueue/clear style operations receive it synchronously; it is never
// swallowed by the sync engine.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Store wraps the SQLite connection holding the action queue.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before the
// first use. The path ":memory:" opens a throwaway in-memory store.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	connStr := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, persistErr("open", fmt.Errorf("failed to create database directory: %w", err))
		}
		connStr = fmt.Sprintf("file:%s", path)
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, persistErr("open", fmt.Errorf("failed to open database: %w", err))
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, persistErr("open", fmt.Errorf("failed to ping database: %w", err))
	}

	if path == ":memory:" {
		// A single connection so every caller sees the same in-memory database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{
		conn: conn,
		path: path,
	}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, persistErr("open", fmt.Errorf("failed to enable WAL mode: %w", err))
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, persistErr("open", fmt.Errorf("failed to set busy timeout: %w", err))
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, persistErr("open", fmt.Errorf("failed to enable foreign keys: %w", err))
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the filesystem path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return persistErr("close", fmt.Errorf("failed to close database: %w", err))
	}

	s.conn = nil
	return nil
}

// InitSchema creates the queue schema if it doesn't exist.
// This is idempotent, safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the queue schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		endpoint TEXT NOT NULL,
		http_method TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'pending',
		synced_at TEXT,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_queue_items_status
	    ON queue_items(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_items_kind ON queue_items(kind);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return persistErr("init schema", err)
	}

	return nil
}

// Enqueue inserts a new item as 'pending' and returns its assigned id.
//
// The store fills ID, CreatedAt, UpdatedAt, RetryCount and Status; the
// caller provides Kind, Payload, Endpoint, Method and optionally
// MaxRetries (0 means DefaultMaxRetries).
func (s *Store) Enqueue(item *Item) (int64, error) {
	return s.EnqueueContext(context.Background(), item)
}

// EnqueueContext inserts a new item with context support.
func (s *Store) EnqueueContext(ctx context.Context, item *Item) (int64, error) {
	if err := item.Validate(); err != nil {
		return 0, fmt.Errorf("invalid item: %w", err)
	}

	if item.MaxRetries <= 0 {
		item.MaxRetries = DefaultMaxRetries
	}
	if len(item.Payload) == 0 {
		item.Payload = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO queue_items (
		kind, payload, endpoint, http_method,
		created_at, updated_at, retry_count, max_retries, status
	) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	res, err := s.conn.ExecContext(ctx, query,
		item.Kind,
		string(item.Payload),
		item.Endpoint,
		item.Method,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
		item.MaxRetries,
		string(StatusPending),
	)
	if err != nil {
		return 0, persistErr("enqueue", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistErr("enqueue", fmt.Errorf("failed to read inserted id: %w", err))
	}

	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	item.RetryCount = 0
	item.Status = StatusPending

	return id, nil
}

// PendingItems returns every retry-eligible item in creation order.
func (s *Store) PendingItems() ([]*Item, error) {
	return s.PendingItemsContext(context.Background())
}

// PendingItemsContext returns pending items with context support.
//
// An item is eligible when its status is 'pending' and it has retry
// budget left. Results are ordered oldest first; ids break ties between
// items created within the same second.
func (s *Store) PendingItemsContext(ctx context.Context) ([]*Item, error) {
	query := itemColumns + `
	FROM queue_items
	WHERE status = ? AND retry_count < max_retries
	ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(StatusPending))
	if err != nil {
		return nil, persistErr("pending items", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// CountPending returns the number of items awaiting delivery.
func (s *Store) CountPending() (int, error) {
	return s.CountPendingContext(context.Background())
}

// CountPendingContext returns the pending count with context support.
func (s *Store) CountPendingContext(ctx context.Context) (int, error) {
	return s.countStatus(ctx, StatusPending)
}

// CountFailed returns the number of dead-lettered items.
func (s *Store) CountFailed() (int, error) {
	return s.CountFailedContext(context.Background())
}

// CountFailedContext returns the failed count with context support.
func (s *Store) CountFailedContext(ctx context.Context) (int, error) {
	return s.countStatus(ctx, StatusFailed)
}

func (s *Store) countStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_items WHERE status = ?", string(status)).Scan(&count)
	if err != nil {
		return 0, persistErr("count", err)
	}
	return count, nil
}

// Stats returns item counts grouped by status.
func (s *Store) Stats() (map[string]int, error) {
	return s.StatsContext(context.Background())
}

// StatsContext returns item counts grouped by status with context support.
func (s *Store) StatsContext(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM queue_items GROUP BY status")
	if err != nil {
		return nil, persistErr("stats", err)
	}
	defer rows.Close()

	stats := map[string]int{
		string(StatusPending): 0,
		string(StatusSynced):  0,
		string(StatusFailed):  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, persistErr("stats", err)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("stats", err)
	}

	return stats, nil
}

// MarkSynced records successful delivery of an item.
//
// The pending to synced transition happens exactly once; marking an item
// that is not pending returns an error.
func (s *Store) MarkSynced(id int64) error {
	return s.MarkSyncedContext(context.Background(), id)
}

// MarkSyncedContext records successful delivery with context support.
func (s *Store) MarkSyncedContext(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
	UPDATE queue_items
	SET status = ?, synced_at = ?, updated_at = ?, last_error = NULL
	WHERE id = ? AND status = ?
	`, string(StatusSynced), now, now, id, string(StatusPending))
	if err != nil {
		return persistErr("mark synced", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr("mark synced", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %d is not pending", id)
	}

	return nil
}

// RecordFailure notes a failed delivery attempt for an item.
//
// The retry count is incremented and the cause stored. When the new count
// reaches the item's retry budget the item flips to 'failed' and drops out
// of automatic sync. Returns the new retry count and whether the item is
// now failed.
func (s *Store) RecordFailure(id int64, cause string) (int, bool, error) {
	return s.RecordFailureContext(context.Background(), id, cause)
}

// RecordFailureContext notes a failed delivery attempt with context support.
func (s *Store) RecordFailureContext(ctx context.Context, id int64, cause string) (int, bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, persistErr("record failure", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	err = tx.QueryRowContext(ctx,
		"SELECT retry_count, max_retries FROM queue_items WHERE id = ? AND status = ?",
		id, string(StatusPending)).Scan(&retryCount, &maxRetries)
	if err == sql.ErrNoRows {
		return 0, false, fmt.Errorf("item %d is not pending", id)
	}
	if err != nil {
		return 0, false, persistErr("record failure", err)
	}

	newCount := retryCount + 1
	status := StatusPending
	failed := newCount >= maxRetries
	if failed {
		status = StatusFailed
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
	UPDATE queue_items
	SET retry_count = ?, last_error = ?, status = ?, updated_at = ?
	WHERE id = ?
	`, newCount, cause, string(status), now, id)
	if err != nil {
		return 0, false, persistErr("record failure", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, persistErr("record failure", err)
	}

	return newCount, failed, nil
}

// Requeue resets a failed item back to 'pending' with a fresh retry budget.
// Only failed items can be requeued.
func (s *Store) Requeue(id int64) error {
	return s.RequeueContext(context.Background(), id)
}

// RequeueContext resets a failed item with context support.
func (s *Store) RequeueContext(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
	UPDATE queue_items
	SET status = ?, retry_count = 0, last_error = NULL, updated_at = ?
	WHERE id = ? AND status = ?
	`, string(StatusPending), now, id, string(StatusFailed))
	if err != nil {
		return persistErr("requeue", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr("requeue", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %d is not failed", id)
	}

	return nil
}

// RequeueAllFailed resets every failed item back to 'pending'.
// Returns the number of items requeued.
func (s *Store) RequeueAllFailed() (int, error) {
	return s.RequeueAllFailedContext(context.Background())
}

// RequeueAllFailedContext resets every failed item with context support.
func (s *Store) RequeueAllFailedContext(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
	UPDATE queue_items
	SET status = ?, retry_count = 0, last_error = NULL, updated_at = ?
	WHERE status = ?
	`, string(StatusPending), now, string(StatusFailed))
	if err != nil {
		return 0, persistErr("requeue all", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("requeue all", err)
	}

	return int(affected), nil
}

// PurgeSyncedBefore deletes synced items created before the cutoff.
// Unsynced items are never touched, regardless of age.
// Returns the number of items deleted.
func (s *Store) PurgeSyncedBefore(cutoff time.Time) (int, error) {
	return s.PurgeSyncedBeforeContext(context.Background(), cutoff)
}

// PurgeSyncedBeforeContext deletes old synced items with context support.
func (s *Store) PurgeSyncedBeforeContext(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM queue_items WHERE status = ? AND created_at < ?",
		string(StatusSynced), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, persistErr("purge", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("purge", err)
	}

	return int(affected), nil
}

// Clear deletes every item. Administrative and test use only.
func (s *Store) Clear() error {
	return s.ClearContext(context.Background())
}

// ClearContext deletes every item with context support.
func (s *Store) ClearContext(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM queue_items"); err != nil {
		return persistErr("clear", err)
	}
	return nil
}

// Get retrieves a single item by id.
// Returns sql.ErrNoRows if the item is not found.
func (s *Store) Get(id int64) (*Item, error) {
	return s.GetContext(context.Background(), id)
}

// GetContext retrieves a single item by id with context support.
func (s *Store) GetContext(ctx context.Context, id int64) (*Item, error) {
	query := itemColumns + " FROM queue_items WHERE id = ?"
	row := s.conn.QueryRowContext(ctx, query, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, persistErr("get", err)
	}

	return item, nil
}

// Filter configures the List query.
type Filter struct {
	// Status filters by item status (empty = all statuses)
	Status Status
	// Kind filters by action kind (empty = all kinds)
	Kind string
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// List retrieves items matching the given filters in creation order.
func (s *Store) List(filter Filter) ([]*Item, error) {
	return s.ListContext(context.Background(), filter)
}

// ListContext retrieves items with context support.
func (s *Store) ListContext(ctx context.Context, filter Filter) ([]*Item, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}

	query := itemColumns + " FROM queue_items"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

const itemColumns = `
	SELECT id, kind, payload, endpoint, http_method,
	       created_at, updated_at, retry_count, max_retries,
	       status, synced_at, last_error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanItem scans a single item from a row.
func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var payload string
	var createdAt, updatedAt, status string
	var syncedAt, lastError sql.NullString

	err := row.Scan(
		&item.ID,
		&item.Kind,
		&payload,
		&item.Endpoint,
		&item.Method,
		&createdAt,
		&updatedAt,
		&item.RetryCount,
		&item.MaxRetries,
		&status,
		&syncedAt,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	item.Payload = json.RawMessage(payload)
	item.Status = Status(status)

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		item.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		item.UpdatedAt = t
	}

	item.SyncedAt = nullStringToTime(syncedAt)
	if lastError.Valid {
		item.LastError = lastError.String
	}

	return &item, nil
}

// scanItems scans multiple items from query results.
func scanItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
