// Package notify broadcasts sync status snapshots to subscribers.
package notify

import (
	"log"
	"os"
	"sync"
	"time"
)

// Status is a point-in-time snapshot of the sync engine. Every
// broadcast carries the full snapshot, so subscribers never need to
// accumulate deltas.
type Status struct {
	IsOnline     bool       `json:"is_online"`
	IsSyncing    bool       `json:"is_syncing"`
	QueueCount   int        `json:"queue_count"`
	FailedCount  int        `json:"failed_count"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Listener receives status snapshots. Listeners run synchronously on
// the publishing goroutine and should return quickly.
type Listener func(Status)

// subscription tracks one listener. The active flag flips off on
// unsubscribe so a listener removed mid-broadcast is skipped.
type subscription struct {
	fn     Listener
	active bool
}

// Notifier fans status snapshots out to listeners in subscription
// order. A panicking listener is logged and skipped without affecting
// the others.
type Notifier struct {
	mu     sync.Mutex
	logger *log.Logger
	subs   []*subscription
	last   Status
}

// New creates a notifier. A nil logger falls back to stderr.
func New(logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Notifier{logger: logger}
}

// Subscribe registers a listener and immediately delivers the most
// recent snapshot to it. The returned function removes the listener;
// calling it more than once is harmless.
func (n *Notifier) Subscribe(fn Listener) func() {
	sub := &subscription{fn: fn, active: true}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	last := n.last
	n.mu.Unlock()

	n.deliver(sub, last)

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if !sub.active {
			return
		}
		sub.active = false
		for i, s := range n.subs {
			if s == sub {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
	}
}

// Publish stores the snapshot and delivers it to every listener in
// subscription order.
func (n *Notifier) Publish(s Status) {
	n.mu.Lock()
	n.last = s
	subs := make([]*subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, sub := range subs {
		n.mu.Lock()
		active := sub.active
		n.mu.Unlock()
		if active {
			n.deliver(sub, s)
		}
	}
}

// Last returns the most recently published snapshot.
func (n *Notifier) Last() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// Count returns the number of active listeners.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// deliver invokes one listener, recovering if it panics.
func (n *Notifier) deliver(sub *subscription, s Status) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Printf("listener panic: %v", r)
		}
	}()
	sub.fn(s)
}
