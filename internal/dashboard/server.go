// Package dashboard provides a real-time WebSocket view of the sync
// engine.
//
// The server broadcasts status snapshots, per-item delivery outcomes,
// and queue administration events to connected WebSocket clients. A
// client connecting mid-run immediately receives the latest status
// snapshot so it never starts blind.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jdelhommeau/pointd/internal/notify"
)

// DefaultPort is where the dashboard listens unless configured.
const DefaultPort = 7823

// writeTimeout bounds every WebSocket write. A stalled client is
// dropped rather than allowed to stall the broadcast fan-out.
const writeTimeout = 5 * time.Second

// outboxBacklog is the broadcast channel capacity. Messages beyond it
// are dropped with a warning; the next status snapshot catches
// clients up.
const outboxBacklog = 100

// MessageType tags a dashboard message so clients can route it.
type MessageType string

const (
	// MessageTypeStatus carries a full engine status snapshot
	MessageTypeStatus MessageType = "status"

	// MessageTypeItemSynced indicates one item was delivered
	MessageTypeItemSynced MessageType = "item_synced"

	// MessageTypeItemFailed indicates a delivery attempt failed
	MessageTypeItemFailed MessageType = "item_failed"

	// MessageTypeQueueCleared indicates the queue was wiped
	MessageTypeQueueCleared MessageType = "queue_cleared"
)

// Message is the envelope every dashboard frame travels in.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ItemSyncedData describes a delivered item
type ItemSyncedData struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
}

// ItemFailedData describes a failed delivery attempt
type ItemFailedData struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error"`
	// Terminal is true when the item exhausted its retry budget
	Terminal bool `json:"terminal"`
}

// session is the server-side record of one WebSocket connection.
type session struct {
	conn   *websocket.Conn
	joined time.Time
}

// Server accepts WebSocket clients and fans sync events out to them.
type Server struct {
	bind     string
	listener net.Listener
	server   *http.Server
	started  time.Time

	sessMu   sync.RWMutex
	sessions map[*websocket.Conn]*session

	outbox chan Message

	// Latest status snapshot, replayed to newly connected clients
	snapMu   sync.Mutex
	snapshot *notify.Status

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config controls where the server listens and where it logs.
type Config struct {
	// Port to listen on. Zero asks the kernel for a free port.
	Port int

	// Logger receives connection and broadcast activity.
	Logger *log.Logger
}

// DefaultConfig listens on DefaultPort and logs to the default logger.
func DefaultConfig() *Config {
	return &Config{
		Port:   DefaultPort,
		Logger: log.Default(),
	}
}

// NewServer builds a dashboard server. A nil cfg means DefaultConfig.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		bind:     fmt.Sprintf(":%d", cfg.Port),
		sessions: make(map[*websocket.Conn]*session),
		outbox:   make(chan Message, outboxBacklog),
		ctx:      ctx,
		cancel:   cancel,
		logger:   cfg.Logger,
	}
}

// Start binds the listener and begins serving. Port 0 picks a free
// port; GetAddr reports the bound address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.bind, err)
	}
	s.listener = ln
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	// WebSocket connections are hijacked after the upgrade, so only
	// the header read needs a server-level deadline.
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: writeTimeout,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")
	s.cancel()

	s.sessMu.Lock()
	for conn := range s.sessions {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(s.sessions, conn)
	}
	s.sessMu.Unlock()

	sctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.server.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues a message for every connected client. When the
// backlog is full the message is dropped, not blocked on.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast backlog full, dropping message")
	}
}

// BroadcastStatus records the snapshot for late joiners and broadcasts
// it to everyone connected now
func (s *Server) BroadcastStatus(status notify.Status) {
	s.snapMu.Lock()
	s.snapshot = &status
	s.snapMu.Unlock()

	s.broadcastPayload(MessageTypeStatus, status)
}

// BroadcastItemSynced announces one delivered item.
func (s *Server) BroadcastItemSynced(data ItemSyncedData) {
	s.broadcastPayload(MessageTypeItemSynced, data)
}

// BroadcastItemFailed announces one failed delivery attempt.
func (s *Server) BroadcastItemFailed(data ItemFailedData) {
	s.broadcastPayload(MessageTypeItemFailed, data)
}

// BroadcastQueueCleared announces a queue wipe.
func (s *Server) BroadcastQueueCleared() {
	s.Broadcast(Message{Type: MessageTypeQueueCleared, Timestamp: time.Now()})
}

func (s *Server) broadcastPayload(msgType MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("Failed to marshal %s payload: %v", msgType, err)
		return
	}
	s.Broadcast(Message{Type: msgType, Timestamp: time.Now(), Data: data})
}

// broadcastLoop serializes each queued message once and fans the bytes
// out to every client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.outbox:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			frame, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}
			s.fanOut(frame)
		}
	}
}

// fanOut writes one serialized frame to every connected client.
// Writes happen outside the read lock so a slow client cannot block
// new connections; a failed write evicts that client.
func (s *Server) fanOut(frame []byte) {
	s.sessMu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.sessions))
	for conn := range s.sessions {
		conns = append(conns, conn)
	}
	s.sessMu.RUnlock()

	for _, conn := range conns {
		if err := s.writeConn(conn, frame); err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			s.evict(conn)
		}
	}
}

// writeConn performs one bounded write.
func (s *Server) writeConn(conn *websocket.Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, frame)
}

// handleWebSocket upgrades the connection and registers the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Local-machine dashboard, any origin may read
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.sessMu.Lock()
	s.sessions[conn] = &session{conn: conn, joined: time.Now()}
	total := len(s.sessions)
	s.sessMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", total)

	s.sendSnapshot(conn)

	go s.readLoop(conn)
}

// sendSnapshot greets a new client with the latest status. With no
// snapshot yet the greeting is an empty status message, which still
// tells the client the stream is live.
func (s *Server) sendSnapshot(conn *websocket.Conn) {
	s.snapMu.Lock()
	snapshot := s.snapshot
	s.snapMu.Unlock()

	msg := Message{Type: MessageTypeStatus, Timestamp: time.Now()}
	if snapshot != nil {
		if data, err := json.Marshal(snapshot); err == nil {
			msg.Data = data
		}
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = s.writeConn(conn, frame)
}

// readLoop drains the client side of the connection until it drops.
// The stream is one-way; inbound messages are discarded.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.evict(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// evict removes a connection. Safe to call twice for the same
// connection; only the first call closes and logs.
func (s *Server) evict(conn *websocket.Conn) {
	s.sessMu.Lock()
	sess, exists := s.sessions[conn]
	if exists {
		delete(s.sessions, conn)
	}
	total := len(s.sessions)
	s.sessMu.Unlock()

	if !exists {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected after %s (total: %d)",
		time.Since(sess.joined).Round(time.Second), total)
}

// handleHealth reports liveness, connected clients, and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"clients":        s.ClientCount(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// handleRoot serves a landing page pointing at the endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>pointd Dashboard</title></head>
<body>
  <h1>pointd Sync Dashboard</h1>
  <p>WebSocket stream: <code>ws://%s/ws</code></p>
  <p>Health: <a href="/health">/health</a></p>
  <p>Connect a WebSocket client to watch queue depth, sync cycles,
  and per-item delivery outcomes in real time.</p>
</body></html>`, r.Host)
}

// GetAddr reports the bound address once Start has run, or the
// configured bind address before that.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

// ClientCount reports how many WebSocket clients are connected.
func (s *Server) ClientCount() int {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	return len(s.sessions)
}
