package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ImportResult contains statistics about a JSONL import.
type ImportResult struct {
	ItemsImported int
	Skipped       int
	Errors        []string
}

// ExportJSONL writes every item to w, one JSON object per line.
//
// The output is a portable backup of the queue: ids are included for
// reference but are reassigned on import.
func (s *Store) ExportJSONL(w io.Writer) (int, error) {
	return s.ExportJSONLContext(context.Background(), w)
}

// ExportJSONLContext writes every item to w with context support.
func (s *Store) ExportJSONLContext(ctx context.Context, w io.Writer) (int, error) {
	items, err := s.ListContext(ctx, Filter{})
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return 0, fmt.Errorf("failed to encode item %d: %w", item.ID, err)
		}
	}

	return len(items), nil
}

// ImportJSONL reads items from r, one JSON object per line, and inserts
// them into the store.
//
// Imported items keep their timestamps, status and retry bookkeeping but
// receive fresh ids. Invalid lines are counted and reported in the result
// rather than aborting the whole import.
func (s *Store) ImportJSONL(r io.Reader) (*ImportResult, error) {
	return s.ImportJSONLContext(context.Background(), r)
}

// ImportJSONLContext reads items from r with context support.
func (s *Store) ImportJSONLContext(ctx context.Context, r io.Reader) (*ImportResult, error) {
	result := &ImportResult{}
	dec := json.NewDecoder(r)
	lineNum := 0

	for {
		var item Item
		if err := dec.Decode(&item); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if err := item.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}

		if err := s.insertImported(ctx, &item); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		result.ItemsImported++
	}

	return result, nil
}

// insertImported inserts an item preserving its bookkeeping fields.
func (s *Store) insertImported(ctx context.Context, item *Item) error {
	if item.MaxRetries <= 0 {
		item.MaxRetries = DefaultMaxRetries
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if len(item.Payload) == 0 {
		item.Payload = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	query := `
	INSERT INTO queue_items (
		kind, payload, endpoint, http_method,
		created_at, updated_at, retry_count, max_retries,
		status, synced_at, last_error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lastError interface{}
	if item.LastError != "" {
		lastError = item.LastError
	}

	_, err := s.conn.ExecContext(ctx, query,
		item.Kind,
		string(item.Payload),
		item.Endpoint,
		item.Method,
		item.CreatedAt.UTC().Format(time.RFC3339),
		item.UpdatedAt.UTC().Format(time.RFC3339),
		item.RetryCount,
		item.MaxRetries,
		string(item.Status),
		timeToNullString(item.SyncedAt),
		lastError,
	)
	if err != nil {
		return persistErr("import", err)
	}

	return nil
}
