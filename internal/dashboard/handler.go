package dashboard

import (
	"log"

	"github.com/jdelhommeau/pointd/internal/notify"
	"github.com/jdelhommeau/pointd/internal/queue"
)

// Handler bridges engine events to the WebSocket server. The daemon
// registers OnStatus as a notifier listener and the per-item methods
// as engine outcome callbacks; their signatures line up so the wiring
// is direct.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnStatus forwards a status snapshot
func (h *Handler) OnStatus(status notify.Status) {
	h.server.BroadcastStatus(status)
}

// OnItemSynced forwards a successful delivery
func (h *Handler) OnItemSynced(item *queue.Item) {
	h.logger.Printf("Item %d synced (%s)", item.ID, item.Kind)
	h.server.BroadcastItemSynced(ItemSyncedData{
		ID:       item.ID,
		Kind:     item.Kind,
		Endpoint: item.Endpoint,
	})
}

// OnItemFailed forwards a failed delivery attempt
func (h *Handler) OnItemFailed(item *queue.Item, cause error, terminal bool) {
	if terminal {
		h.logger.Printf("Item %d failed permanently (%s): %v", item.ID, item.Kind, cause)
	} else {
		h.logger.Printf("Item %d failed, retry %d (%s): %v", item.ID, item.RetryCount, item.Kind, cause)
	}
	h.server.BroadcastItemFailed(ItemFailedData{
		ID:         item.ID,
		Kind:       item.Kind,
		RetryCount: item.RetryCount,
		Error:      cause.Error(),
		Terminal:   terminal,
	})
}

// OnQueueCleared forwards a queue wipe
func (h *Handler) OnQueueCleared() {
	h.logger.Println("Queue cleared")
	h.server.BroadcastQueueCleared()
}
