// Package engine orchestrates delivery of queued actions to the backend.
//
// # Overview
//
// Actions captured while the backend is unreachable land in a durable
// queue. The engine watches connectivity, drains that queue when the
// backend comes back, applies per-item retry backoff, and broadcasts
// status snapshots so observers always know the queue depth and sync
// state. The store, dispatcher, and monitor are injected, so every
// piece swaps out for a fake in tests.
//
// # Sync Cycle
//
// A cycle starts on one of three triggers: connectivity returning,
// the app coming back to the foreground with work queued, or an
// explicit ForceSync. At most one cycle runs at a time; overlapping
// triggers are dropped, not queued. Each cycle:
//
//  1. Snapshots the retry-eligible pending items in creation order
//  2. Dispatches them sequentially, one delivery attempt each
//  3. Marks successes synced, records failures with a backoff timer
//  4. Runs retention cleanup and emits a final status snapshot
//
// Going offline mid-cycle stops the pass after the in-flight attempt;
// untouched items keep their retry budget.
//
// # Retry Policy
//
// A failed item waits BaseDelay*2^(n-1) before attempt n+1, capped at
// MaxDelay. Timers are independent per item and do not hold the cycle
// guard. An item that exhausts MaxRetries goes to a terminal failed
// state: it leaves the automatic retry path but stays in the store
// for inspection and manual requeue.
//
// # Status Broadcasts
//
// Every mutation publishes a full snapshot: enqueue, each delivery,
// each failure, cycle start and finish, and connectivity changes.
// Subscribers receive the current snapshot immediately on subscribe.
//
// # Usage Example
//
// Wiring the real store and dispatcher:
//
//	store, _ := queue.Open(dbPath)
//	disp, _ := dispatch.NewHTTP(dispatch.Config{BaseURL: url, Credentials: creds})
//	monitor := netmon.NewProbe(netmon.DefaultProbeConfig(url + "/health"))
//	eng, err := engine.New(store, disp, monitor, nil)
//
//	unsubscribe := eng.Subscribe(func(s notify.Status) {
//	    fmt.Printf("queue=%d online=%v\n", s.QueueCount, s.IsOnline)
//	})
//	defer unsubscribe()
//
//	id, err := eng.EnqueueAction(&action.ClockIn{
//	    EmployeeID: "emp-42",
//	    Timestamp:  time.Now(),
//	})
//
//	monitor.Start(ctx)
//	err = eng.Start(ctx) // blocks until shutdown
package engine
