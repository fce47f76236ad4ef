// Package netmon tracks backend reachability and app lifecycle events.
//
// The Probe monitor polls a health endpoint and emits an event on every
// transition between online and offline. Foreground() injects a
// foreground-resume event, typically wired to SIGUSR1 by the daemon.
// The Manual monitor drives the same event stream by hand for tests.
package netmon

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// EventType classifies connectivity and lifecycle transitions.
type EventType int

const (
	// EventOnline fires when the backend becomes reachable.
	EventOnline EventType = iota
	// EventOffline fires when the backend stops being reachable.
	EventOffline
	// EventForeground fires when the app returns to the foreground.
	EventForeground
)

// String returns a human-readable event type name.
func (t EventType) String() string {
	switch t {
	case EventOnline:
		return "online"
	case EventOffline:
		return "offline"
	case EventForeground:
		return "foreground"
	default:
		return "unknown"
	}
}

// Event is one connectivity or lifecycle transition.
type Event struct {
	Type EventType
	At   time.Time
}

// ProbeConfig holds configuration for the polling monitor.
type ProbeConfig struct {
	// URL is the health endpoint to probe with HEAD requests.
	URL string

	// Interval is the polling period.
	Interval time.Duration

	// Timeout bounds each probe request.
	Timeout time.Duration

	// Client overrides the HTTP client used for probes.
	Client *http.Client

	// Logger for transition messages. Defaults to stderr.
	Logger *log.Logger
}

// DefaultProbeConfig returns a config with sensible defaults.
func DefaultProbeConfig(url string) ProbeConfig {
	return ProbeConfig{
		URL:      url,
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Probe polls a health endpoint and reports reachability transitions.
type Probe struct {
	cfg    ProbeConfig
	client *http.Client
	logger *log.Logger

	online  atomic.Bool
	started atomic.Bool

	mu     sync.Mutex
	events chan Event
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProbe creates a polling monitor. It starts offline; the first
// probe after Start decides the real state.
func NewProbe(cfg ProbeConfig) *Probe {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Probe{
		cfg:    cfg,
		client: client,
		logger: logger,
		events: make(chan Event, 16),
	}
}

// Start launches the polling loop. It probes once immediately, then on
// every interval tick until the context is canceled or Stop is called.
func (p *Probe) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts polling and closes the event channel.
func (p *Probe) Stop() {
	if !p.started.Load() {
		return
	}
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

// Online reports the last observed reachability state.
func (p *Probe) Online() bool {
	return p.online.Load()
}

// Events returns the transition stream. The channel is closed by Stop.
func (p *Probe) Events() <-chan Event {
	return p.events
}

// Foreground injects a foreground-resume event into the stream.
func (p *Probe) Foreground() {
	p.emit(Event{Type: EventForeground, At: time.Now()})
}

func (p *Probe) loop(ctx context.Context) {
	defer p.wg.Done()

	p.check(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

// check probes the health endpoint once and emits an event if the
// reachability state changed.
func (p *Probe) check(ctx context.Context) {
	up := p.probe(ctx)
	if p.online.Swap(up) == up {
		return
	}

	eventType := EventOffline
	if up {
		eventType = EventOnline
	}
	p.logger.Printf("connectivity changed: %s", eventType)
	p.emit(Event{Type: eventType, At: time.Now()})
}

// probe issues one HEAD request. Any 2xx-4xx response proves the
// backend is reachable; transport errors and 5xx mean it is not.
func (p *Probe) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.URL, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

// emit delivers an event without blocking. If the buffer is full the
// event is dropped with a warning; consumers coalesce on the next one.
func (p *Probe) emit(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- e:
	default:
		p.logger.Printf("event buffer full, dropping %s event", e.Type)
	}
}

// Manual is a hand-driven monitor for tests and the sync-once path.
type Manual struct {
	mu     sync.Mutex
	online bool
	events chan Event
	closed bool
}

// NewManual creates a manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online: online,
		events: make(chan Event, 16),
	}
}

// SetOnline flips the reachability state, emitting a transition event
// when it changes.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online

	eventType := EventOffline
	if online {
		eventType = EventOnline
	}
	m.send(Event{Type: eventType, At: time.Now()})
}

// Foreground injects a foreground-resume event into the stream.
func (m *Manual) Foreground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.send(Event{Type: EventForeground, At: time.Now()})
}

// Online reports the current reachability state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Events returns the transition stream. The channel is closed by Close.
func (m *Manual) Events() <-chan Event {
	return m.events
}

// Close shuts the event stream.
func (m *Manual) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
}

// send must be called with mu held.
func (m *Manual) send(e Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- e:
	default:
	}
}
