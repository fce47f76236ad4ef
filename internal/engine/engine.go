package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jdelhommeau/pointd/internal/action"
	"github.com/jdelhommeau/pointd/internal/netmon"
	"github.com/jdelhommeau/pointd/internal/notify"
	"github.com/jdelhommeau/pointd/internal/queue"
)

// State describes what the engine is doing right now.
type State int

const (
	// StateIdle means no sync cycle is in flight.
	StateIdle State = iota
	// StateSyncing means a sync cycle is draining the queue.
	StateSyncing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// Config holds configuration for the sync engine.
type Config struct {
	// MaxRetries is the per-item attempt budget stamped onto new items.
	MaxRetries int

	// BaseDelay is the wait before the first retry of a failed item.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff between retries.
	MaxDelay time.Duration

	// Retention is how long synced items stay in the store before the
	// cleanup pass deletes them.
	Retention time.Duration

	// PurgeInterval is how often retention cleanup runs while idle.
	// Cleanup also runs after every sync cycle.
	PurgeInterval time.Duration

	// Logger for engine activity
	Logger *log.Logger

	// OnItemSynced, OnItemFailed, and OnQueueCleared are optional
	// per-item outcome callbacks, invoked synchronously from the sync
	// path. The daemon forwards them to the dashboard. Status listeners
	// registered through Subscribe are unaffected.
	OnItemSynced   func(item *queue.Item)
	OnItemFailed   func(item *queue.Item, cause error, terminal bool)
	OnQueueCleared func()
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:    queue.DefaultMaxRetries,
		BaseDelay:     2 * time.Second,
		MaxDelay:      5 * time.Minute,
		Retention:     24 * time.Hour,
		PurgeInterval: time.Hour,
		Logger:        log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine owns the sync state machine. It watches connectivity events,
// drains the queue in creation order when the backend is reachable,
// schedules per-item retry backoff, and broadcasts status snapshots
// after every change.
//
// At most one sync cycle runs at a time. Retry timers are independent
// of that guard: they re-attempt single items without blocking or
// being blocked by a full pass.
type Engine struct {
	store      Store
	dispatcher Dispatcher
	monitor    Monitor
	notifier   *notify.Notifier
	config     *Config

	mu        sync.Mutex
	syncing   bool
	timers    map[int64]*time.Timer
	lastSync  *time.Time
	lastError string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine with default configuration.
//
// Use Start() to begin event-driven syncing, or SyncOnce() for a
// single synchronous pass.
func New(store Store, dispatcher Dispatcher, monitor Monitor, notifier *notify.Notifier) (*Engine, error) {
	return NewWithConfig(store, dispatcher, monitor, notifier, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(store Store, dispatcher Dispatcher, monitor Monitor, notifier *notify.Notifier, config *Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	config = normalizeConfig(config)
	if notifier == nil {
		notifier = notify.New(config.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		monitor:    monitor,
		notifier:   notifier,
		config:     config,
		timers:     make(map[int64]*time.Timer),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// normalizeConfig fills zero fields with defaults.
func normalizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	def := DefaultConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = def.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if config.PurgeInterval <= 0 {
		config.PurgeInterval = def.PurgeInterval
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	return config
}

// Start begins event-driven operation.
//
// The engine will:
// 1. Broadcast an initial status snapshot
// 2. React to connectivity and foreground events with sync cycles
// 3. Run retention cleanup periodically and after every cycle
// 4. Attempt an initial drain if the backend is already reachable
//
// This blocks until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.config.Logger.Println("Starting sync engine")

	e.publishStatus()

	e.wg.Add(2)
	go e.eventLoop()
	go e.purgeLoop()

	if e.monitor.Online() {
		e.triggerSync("startup")
	}

	select {
	case <-ctx.Done():
		e.config.Logger.Println("Shutdown signal received")
		return e.Stop()
	case <-e.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the engine. Armed retry timers are
// cancelled; their items stay pending for the next run.
func (e *Engine) Stop() error {
	e.config.Logger.Println("Stopping sync engine")

	e.cancel()
	e.cancelAllTimers()
	e.wg.Wait()

	e.config.Logger.Println("Sync engine stopped")
	return nil
}

// Enqueue persists a prebuilt item and broadcasts the new queue depth.
// The returned error is a *queue.PersistenceError on store failure.
func (e *Engine) Enqueue(item *queue.Item) (int64, error) {
	return e.EnqueueContext(context.Background(), item)
}

// EnqueueContext persists a prebuilt item with context support.
func (e *Engine) EnqueueContext(ctx context.Context, item *queue.Item) (int64, error) {
	if item.MaxRetries == 0 {
		item.MaxRetries = e.config.MaxRetries
	}

	id, err := e.store.EnqueueContext(ctx, item)
	if err != nil {
		return 0, err
	}

	e.config.Logger.Printf("Enqueued item %d (%s %s %s)", id, item.Kind, item.Method, item.Endpoint)
	e.publishStatus()
	return id, nil
}

// EnqueueAction builds an item from a typed payload and persists it.
func (e *Engine) EnqueueAction(p action.Payload) (int64, error) {
	return e.EnqueueActionContext(context.Background(), p)
}

// EnqueueActionContext builds an item from a typed payload with
// context support.
func (e *Engine) EnqueueActionContext(ctx context.Context, p action.Payload) (int64, error) {
	data, err := action.Marshal(p)
	if err != nil {
		return 0, err
	}

	return e.EnqueueContext(ctx, &queue.Item{
		Kind:     string(p.Kind()),
		Payload:  data,
		Endpoint: p.Endpoint(),
		Method:   p.Method(),
	})
}

// PendingItems returns the retry-eligible items in creation order.
func (e *Engine) PendingItems() ([]*queue.Item, error) {
	return e.PendingItemsContext(context.Background())
}

// PendingItemsContext returns pending items with context support.
func (e *Engine) PendingItemsContext(ctx context.Context) ([]*queue.Item, error) {
	return e.store.PendingItemsContext(ctx)
}

// QueueCount returns the number of retry-eligible pending items.
func (e *Engine) QueueCount() (int, error) {
	return e.QueueCountContext(context.Background())
}

// QueueCountContext returns the queue depth with context support.
func (e *Engine) QueueCountContext(ctx context.Context) (int, error) {
	return e.store.CountPendingContext(ctx)
}

// ForceSync requests a sync cycle. It is a no-op when a cycle is
// already running or the backend is unreachable.
func (e *Engine) ForceSync() {
	if e.ctx.Err() != nil {
		return
	}
	e.triggerSync("manual")
}

// SyncOnce runs one synchronous sync cycle on the calling goroutine.
// It returns an error when the backend is unreachable or a cycle is
// already in flight.
func (e *Engine) SyncOnce(ctx context.Context) error {
	if !e.monitor.Online() {
		return fmt.Errorf("backend is not reachable")
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return fmt.Errorf("sync cycle already running")
	}
	e.syncing = true
	e.mu.Unlock()

	e.runCycle(ctx, "sync-once")
	return nil
}

// Subscribe registers a status listener. The listener immediately
// receives the current snapshot; the returned function unsubscribes.
func (e *Engine) Subscribe(fn notify.Listener) func() {
	return e.notifier.Subscribe(fn)
}

// IsOnline reports backend reachability.
func (e *Engine) IsOnline() bool {
	return e.monitor.Online()
}

// IsSyncing reports whether a sync cycle is in flight.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// State returns the current engine state.
func (e *Engine) State() State {
	if e.IsSyncing() {
		return StateSyncing
	}
	return StateIdle
}

// Status assembles a fresh snapshot from the store and engine state.
func (e *Engine) Status() notify.Status {
	return e.StatusContext(context.Background())
}

// StatusContext assembles a snapshot with context support.
func (e *Engine) StatusContext(ctx context.Context) notify.Status {
	pending, err := e.store.CountPendingContext(ctx)
	if err != nil {
		e.config.Logger.Printf("Failed to count pending items: %v", err)
	}
	failed, err := e.store.CountFailedContext(ctx)
	if err != nil {
		e.config.Logger.Printf("Failed to count failed items: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return notify.Status{
		IsOnline:     e.monitor.Online(),
		IsSyncing:    e.syncing,
		QueueCount:   pending,
		FailedCount:  failed,
		LastSyncTime: e.lastSync,
		Error:        e.lastError,
	}
}

// ClearQueue deletes every item and cancels armed retry timers.
// The returned error is a *queue.PersistenceError on store failure.
func (e *Engine) ClearQueue() error {
	return e.ClearQueueContext(context.Background())
}

// ClearQueueContext deletes every item with context support.
func (e *Engine) ClearQueueContext(ctx context.Context) error {
	e.cancelAllTimers()
	if err := e.store.ClearContext(ctx); err != nil {
		return err
	}

	e.config.Logger.Println("Queue cleared")
	e.publishStatus()
	if e.config.OnQueueCleared != nil {
		e.config.OnQueueCleared()
	}
	return nil
}

// RequeueFailed returns one dead-lettered item to the pending queue.
func (e *Engine) RequeueFailed(id int64) error {
	return e.RequeueFailedContext(context.Background(), id)
}

// RequeueFailedContext requeues one failed item with context support.
func (e *Engine) RequeueFailedContext(ctx context.Context, id int64) error {
	if err := e.store.RequeueContext(ctx, id); err != nil {
		return err
	}

	e.config.Logger.Printf("Requeued item %d", id)
	e.publishStatus()
	return nil
}

// RequeueAllFailed returns every dead-lettered item to the pending
// queue and reports how many were touched.
func (e *Engine) RequeueAllFailed() (int, error) {
	return e.RequeueAllFailedContext(context.Background())
}

// RequeueAllFailedContext requeues all failed items with context
// support.
func (e *Engine) RequeueAllFailedContext(ctx context.Context) (int, error) {
	n, err := e.store.RequeueAllFailedContext(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		e.config.Logger.Printf("Requeued %d failed items", n)
		e.publishStatus()
	}
	return n, nil
}

// eventLoop reacts to connectivity and lifecycle transitions.
func (e *Engine) eventLoop() {
	defer e.wg.Done()

	events := e.monitor.Events()
	for {
		select {
		case <-e.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(event)
		}
	}
}

func (e *Engine) handleEvent(event netmon.Event) {
	switch event.Type {
	case netmon.EventOnline:
		e.config.Logger.Println("Connectivity restored")
		e.publishStatus()
		e.triggerSync("online")

	case netmon.EventOffline:
		e.config.Logger.Println("Connectivity lost")
		e.publishStatus()

	case netmon.EventForeground:
		count, err := e.store.CountPendingContext(e.ctx)
		if err != nil {
			e.config.Logger.Printf("Failed to count pending items: %v", err)
			return
		}
		if e.monitor.Online() && count > 0 {
			e.triggerSync("foreground")
		}
	}
}

// purgeLoop runs retention cleanup while the engine is idle for long
// stretches.
func (e *Engine) purgeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.purge(e.ctx)
		}
	}
}

// purge deletes synced items older than the retention window.
func (e *Engine) purge(ctx context.Context) {
	deleted, err := e.store.PurgeSyncedBeforeContext(ctx, time.Now().Add(-e.config.Retention))
	if err != nil {
		e.config.Logger.Printf("Retention cleanup failed: %v", err)
		return
	}
	if deleted > 0 {
		e.config.Logger.Printf("Purged %d synced items older than %s", deleted, e.config.Retention)
	}
}

// triggerSync starts a sync cycle on its own goroutine unless one is
// already running or the backend is unreachable.
func (e *Engine) triggerSync(reason string) {
	if !e.monitor.Online() {
		e.config.Logger.Printf("Skipping %s sync trigger: offline", reason)
		return
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		e.config.Logger.Printf("Sync cycle already running, ignoring %s trigger", reason)
		return
	}
	e.syncing = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runCycle(e.ctx, reason)
	}()
}

// runCycle drains the pending queue sequentially in creation order.
// The caller must have set the syncing flag; runCycle clears it.
func (e *Engine) runCycle(ctx context.Context, reason string) {
	started := time.Now()
	e.config.Logger.Printf("Sync cycle started (%s)", reason)
	e.publishStatus()

	var delivered, failed int
	items, err := e.store.PendingItemsContext(ctx)
	if err != nil {
		e.config.Logger.Printf("Failed to load pending items: %v", err)
		e.finishCycle(started, 0, 0, err)
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if !e.monitor.Online() {
			e.config.Logger.Println("Went offline mid-cycle, stopping pass")
			break
		}
		if e.dispatchItem(ctx, item) {
			delivered++
		} else {
			failed++
		}
	}

	e.finishCycle(started, delivered, failed, nil)
}

// finishCycle runs after-pass cleanup, records the outcome, and emits
// the final status snapshot.
func (e *Engine) finishCycle(started time.Time, delivered, failed int, cycleErr error) {
	e.purge(e.ctx)

	now := time.Now()
	e.mu.Lock()
	e.syncing = false
	if cycleErr != nil {
		e.lastError = cycleErr.Error()
	} else {
		e.lastSync = &now
		if failed == 0 {
			e.lastError = ""
		}
	}
	e.mu.Unlock()

	e.config.Logger.Printf("Sync cycle finished: %d delivered, %d failed in %s",
		delivered, failed, time.Since(started).Round(time.Millisecond))
	e.publishStatus()
}

// dispatchItem makes one delivery attempt and records the outcome.
// Returns true when the item was delivered.
func (e *Engine) dispatchItem(ctx context.Context, item *queue.Item) bool {
	if err := e.dispatcher.Dispatch(ctx, item); err != nil {
		e.recordFailure(ctx, item, err)
		return false
	}

	if err := e.store.MarkSyncedContext(ctx, item.ID); err != nil {
		e.config.Logger.Printf("Failed to mark item %d synced: %v", item.ID, err)
		return true
	}

	e.cancelTimer(item.ID)
	e.config.Logger.Printf("Delivered item %d (%s)", item.ID, item.Kind)
	e.publishStatus()
	if e.config.OnItemSynced != nil {
		e.config.OnItemSynced(item)
	}
	return true
}

// recordFailure stores a delivery failure and schedules a retry while
// the item has budget left.
func (e *Engine) recordFailure(ctx context.Context, item *queue.Item, cause error) {
	count, terminal, err := e.store.RecordFailureContext(ctx, item.ID, cause.Error())
	if err != nil {
		e.config.Logger.Printf("Failed to record failure for item %d: %v", item.ID, err)
		return
	}
	item.RetryCount = count
	item.LastError = cause.Error()

	e.mu.Lock()
	e.lastError = cause.Error()
	e.mu.Unlock()

	if terminal {
		e.config.Logger.Printf("Item %d failed permanently after %d attempts: %v", item.ID, count, cause)
		e.cancelTimer(item.ID)
	} else {
		delay := retryDelay(count, e.config.BaseDelay, e.config.MaxDelay)
		e.config.Logger.Printf("Item %d failed (attempt %d): %v, next retry in %s", item.ID, count, cause, delay)
		e.scheduleRetry(item.ID, count, delay)
	}

	e.publishStatus()
	if e.config.OnItemFailed != nil {
		e.config.OnItemFailed(item, cause, terminal)
	}
}

// scheduleRetry arms the backoff timer for one item, replacing any
// prior timer for the same id.
func (e *Engine) scheduleRetry(id int64, expectCount int, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return
	}

	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.timers[id] = time.AfterFunc(delay, func() {
		e.retryItem(id, expectCount)
	})
}

// retryItem re-attempts one item when its backoff timer fires. The
// item is re-read first: if a sync cycle already delivered it, killed
// it, or bumped its retry count, this timer is stale and does nothing.
// Offline the attempt is skipped without burning retry budget; the
// next online cycle picks the item up through the pending scan.
func (e *Engine) retryItem(id int64, expectCount int) {
	if e.ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	delete(e.timers, id)
	e.mu.Unlock()

	if !e.monitor.Online() {
		e.config.Logger.Printf("Skipping retry for item %d: offline", id)
		return
	}

	item, err := e.store.GetContext(e.ctx, id)
	if err != nil {
		e.config.Logger.Printf("Failed to load item %d for retry: %v", id, err)
		return
	}
	if item.Status != queue.StatusPending || item.RetryCount != expectCount {
		return
	}

	e.config.Logger.Printf("Retrying item %d (attempt %d)", id, item.RetryCount+1)
	e.dispatchItem(e.ctx, item)
}

func (e *Engine) cancelTimer(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) cancelAllTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// publishStatus broadcasts a fresh snapshot to subscribers.
func (e *Engine) publishStatus() {
	e.notifier.Publish(e.StatusContext(e.ctx))
}
