// Package agent schedules best-effort background sync triggers.
//
// The daemon registers the engine's ForceSync with an Agent so queued
// work drains periodically even when no connectivity or foreground
// event arrives. Agents are strictly best effort: registration failure
// or the absence of any agent never blocks event-driven syncing.
package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultInterval is the trigger period used when none is configured.
const DefaultInterval = 15 * time.Minute

// Agent invokes a registered trigger on some schedule.
type Agent interface {
	// Register installs the trigger and starts the schedule.
	// Returns an error if a trigger is already registered.
	Register(trigger func()) error

	// Stop halts the schedule and waits for any in-flight trigger.
	Stop() error
}

// Ticker invokes the trigger on a fixed interval.
type Ticker struct {
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTicker creates a ticker agent. A non-positive interval falls back
// to DefaultInterval; a nil logger falls back to stderr.
func NewTicker(interval time.Duration, logger *log.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[agent] ", log.LstdFlags)
	}
	return &Ticker{interval: interval, logger: logger}
}

// Register starts invoking the trigger every interval until Stop.
func (t *Ticker) Register(trigger func()) error {
	if trigger == nil {
		return fmt.Errorf("trigger cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("trigger already registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.loop(ctx, trigger)

	t.logger.Printf("Background trigger registered (every %s)", t.interval)
	return nil
}

// Stop halts the schedule. Safe to call without a prior Register.
func (t *Ticker) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	return nil
}

// IsRunning reports whether a trigger is registered.
func (t *Ticker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Ticker) loop(ctx context.Context, trigger func()) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger()
		}
	}
}

// Nop is an agent that schedules nothing. It stands in when background
// execution is disabled or unavailable on the platform.
type Nop struct{}

// Register accepts the trigger and discards it.
func (Nop) Register(func()) error { return nil }

// Stop does nothing.
func (Nop) Stop() error { return nil }
