// Package engine orchestrates delivery of queued actions to the backend.
package engine

import (
	"context"
	"time"

	"github.com/jdelhommeau/pointd/internal/netmon"
	"github.com/jdelhommeau/pointd/internal/queue"
)

// Store is the durable queue the engine drains.
//
// The engine is the sole writer of item status fields. Application
// code creates items through the engine's enqueue operations and the
// two never race on the same row: status mutation happens only from
// sync cycles and retry timers.
//
// Implementations must keep each mutation atomic per item. The engine
// relies on MarkSynced and RecordFailure rejecting items that already
// left the pending state to stay correct when a retry timer and a
// sync cycle overlap.
type Store interface {
	// EnqueueContext persists a new item and returns its id.
	//
	// The item enters the store pending with a zero retry count.
	// Failures surface as a *queue.PersistenceError.
	EnqueueContext(ctx context.Context, item *queue.Item) (int64, error)

	// PendingItemsContext returns every retry-eligible pending item
	// in creation order.
	PendingItemsContext(ctx context.Context) ([]*queue.Item, error)

	// CountPendingContext returns the number of retry-eligible
	// pending items.
	CountPendingContext(ctx context.Context) (int, error)

	// CountFailedContext returns the number of items that exhausted
	// their retry budget.
	CountFailedContext(ctx context.Context) (int, error)

	// GetContext returns one item by id. A missing item returns
	// sql.ErrNoRows.
	GetContext(ctx context.Context, id int64) (*queue.Item, error)

	// MarkSyncedContext transitions a pending item to synced.
	//
	// The transition happens exactly once; marking an item that is
	// not pending returns an error.
	MarkSyncedContext(ctx context.Context, id int64) error

	// RecordFailureContext increments an item's retry count and
	// stores the failure diagnostic. It returns the new count and
	// whether the item just exhausted its budget and went terminal.
	RecordFailureContext(ctx context.Context, id int64, cause string) (int, bool, error)

	// RequeueContext returns a failed item to pending with a fresh
	// retry budget.
	RequeueContext(ctx context.Context, id int64) error

	// RequeueAllFailedContext requeues every failed item and returns
	// how many it touched.
	RequeueAllFailedContext(ctx context.Context) (int, error)

	// PurgeSyncedBeforeContext deletes synced items created before
	// the cutoff. Items that never synced are kept regardless of age.
	PurgeSyncedBeforeContext(ctx context.Context, cutoff time.Time) (int, error)

	// ClearContext deletes every item.
	ClearContext(ctx context.Context) error
}

// Dispatcher makes one delivery attempt for one item.
//
// A nil return means the backend acknowledged the item. Every failure
// comes back as a *dispatch.DeliveryError; the engine absorbs those,
// records them, and owns all retry policy. Implementations must not
// retry internally.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *queue.Item) error
}

// Monitor reports backend reachability.
//
// Events delivers a transition stream the engine consumes to decide
// when to start sync cycles. Closing the event channel stops the
// engine's event loop. Online must be safe to call from any
// goroutine.
type Monitor interface {
	Online() bool
	Events() <-chan netmon.Event
}
