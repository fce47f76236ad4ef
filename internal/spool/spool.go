// Package spool provides drop-file intake for the sync queue.
//
// Headless producers (cron jobs, kiosk scripts, other processes) write
// action files into a spool directory instead of linking the engine.
// The watcher picks up *.json files, decodes the envelope, enqueues the
// action, and removes the file. Files that fail to parse or validate
// are renamed with an .invalid suffix so they are not rescanned.
//
// Producers should write to a temporary name and rename into place;
// the watcher debounces create/write bursts but cannot distinguish a
// slow writer from a finished file.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jdelhommeau/pointd/internal/action"
	"github.com/jdelhommeau/pointd/internal/queue"
)

// DefaultDebounce is the quiet period after the last write event
// before a spool file is processed.
const DefaultDebounce = 200 * time.Millisecond

// Envelope is the on-disk format of a spool file.
//
// Endpoint and Method are optional for registered action kinds, which
// carry their own defaults; unregistered kinds must spell them out.
type Envelope struct {
	Kind     string          `json:"kind"`
	Endpoint string          `json:"endpoint,omitempty"`
	Method   string          `json:"method,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Enqueuer is the engine-side surface the watcher feeds.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, item *queue.Item) (int64, error)
}

// Result reports the outcome of one spool file.
type Result struct {
	// Path is the spool file that was processed.
	Path string
	// ID is the enqueued item id; zero when the file was rejected.
	ID int64
	// Err is nil on success, the rejection or store error otherwise.
	Err error
}

// Config holds watcher configuration.
type Config struct {
	// Dir is the spool directory. It is created if missing.
	Dir string

	// Debounce is the quiet period before processing a file.
	// Zero falls back to DefaultDebounce.
	Debounce time.Duration

	// Logger for watcher activity
	Logger *log.Logger
}

// Watcher tails a spool directory and enqueues dropped action files.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *log.Logger
	enq      Enqueuer

	watcher *fsnotify.Watcher
	results chan Result

	mu      sync.Mutex
	running bool
	closed  bool
	pending map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// New creates a spool watcher. The watcher must be started with Start
// before it will process files.
func New(enq Enqueuer, config *Config) (*Watcher, error) {
	if enq == nil {
		return nil, fmt.Errorf("enqueuer cannot be nil")
	}
	if config == nil || config.Dir == "" {
		return nil, fmt.Errorf("spool directory is required")
	}

	debounce := config.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		dir:      config.Dir,
		debounce: debounce,
		logger:   logger,
		enq:      enq,
		watcher:  fw,
		results:  make(chan Result, 100),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the spool directory. Files already present are
// picked up first so work dropped while the daemon was down is not
// lost. Returns an error if the directory cannot be created or watched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory %s: %w", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", w.dir, err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	w.wg.Add(1)
	go w.processEvents()

	existing, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err == nil {
		for _, path := range existing {
			w.scheduleLocked(path)
		}
	}

	w.logger.Printf("Watching spool directory %s", w.dir)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
// Files whose debounce window had not elapsed stay in the directory
// and are picked up on the next Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()

	w.mu.Lock()
	w.closed = true
	close(w.results)
	w.mu.Unlock()
	return nil
}

// Results returns the per-file outcome channel. The channel is closed
// when the watcher is stopped; outcomes are dropped when nobody drains
// it fast enough.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// processEvents converts fsnotify events into debounced file handling.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watch error: %v", err)
		}
	}
}

// schedule arms the debounce timer for a path, replacing any prior
// timer so a burst of writes processes the file once.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduleLocked(path)
}

func (w *Watcher) scheduleLocked(path string) {
	if !w.running {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.handle(path)
	})
}

// handle processes one settled spool file.
func (w *Watcher) handle(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	ctx := w.ctx
	w.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	id, err := w.processFile(ctx, path)
	switch {
	case err == nil:
		w.logger.Printf("Enqueued %s as item %d", filepath.Base(path), id)
	case os.IsNotExist(err):
		// Already consumed, or the producer renamed it away
		return
	default:
		w.logger.Printf("Rejected %s: %v", filepath.Base(path), err)
	}

	w.emit(Result{Path: path, ID: id, Err: err})
}

// processFile reads, decodes, validates, and enqueues one file.
// Decode and validation failures quarantine the file; store failures
// leave it in place for the next scan.
func (w *Watcher) processFile(ctx context.Context, path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	item, err := decodeEnvelope(data)
	if err != nil {
		w.quarantine(path)
		return 0, err
	}

	id, err := w.enq.EnqueueContext(ctx, item)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Printf("Failed to remove %s after enqueue: %v", path, err)
	}
	return id, nil
}

// decodeEnvelope turns spool file bytes into a validated queue item.
func decodeEnvelope(data []byte) (*queue.Item, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("invalid envelope: kind is required")
	}

	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	item := &queue.Item{
		Kind:     env.Kind,
		Payload:  payload,
		Endpoint: env.Endpoint,
		Method:   env.Method,
	}

	// Registered kinds validate their payload schema and supply the
	// default route; unregistered kinds must spell the route out.
	if action.Registered(action.Kind(env.Kind)) {
		p, err := action.Decode(action.Kind(env.Kind), payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if item.Endpoint == "" {
			item.Endpoint = p.Endpoint()
		}
		if item.Method == "" {
			item.Method = p.Method()
		}
	}

	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return item, nil
}

// quarantine renames a rejected file so it is not rescanned.
func (w *Watcher) quarantine(path string) {
	if err := os.Rename(path, path+".invalid"); err != nil && !os.IsNotExist(err) {
		w.logger.Printf("Failed to quarantine %s: %v", path, err)
	}
}

// emit delivers a result without blocking the handler.
func (w *Watcher) emit(res Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.results <- res:
	default:
		w.logger.Printf("Result buffer full, dropping outcome for %s", res.Path)
	}
}
