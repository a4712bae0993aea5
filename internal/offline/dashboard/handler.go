package dashboard

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/notify"
	offlinesync "github.com/koinonia-app/koinonia/internal/offline/sync"
)

// Handler turns bus events into dashboard messages.
// It bridges between the offline event bus and the WebSocket server.
type Handler struct {
	server *Server
	queue  Lister
	logger zerolog.Logger
}

// NewHandler creates a new event handler connected to a dashboard server.
// queue supplies the pending count after each change; it may be nil.
func NewHandler(server *Server, queue Lister, logger zerolog.Logger) *Handler {
	return &Handler{
		server: server,
		queue:  queue,
		logger: logger,
	}
}

// Attach subscribes the handler to bus and returns the function that
// detaches it.
func (h *Handler) Attach(bus *events.Bus) (detach func()) {
	unsubs := []func(){
		bus.Subscribe(events.SyncComplete, h.onSyncComplete),
		bus.Subscribe(events.QueueChanged, h.onQueueChanged),
		bus.Subscribe(events.ConnectionOnline, h.onConnectivity),
		bus.Subscribe(events.ConnectionOffline, h.onConnectivity),
		bus.Subscribe(events.NoticeRaised, h.onNotice),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (h *Handler) onSyncComplete(ev events.Event) {
	res, _ := ev.Payload.(offlinesync.SyncResult)
	pending := h.pending()
	h.logger.Debug().Int("success", res.Success).Int("failed", res.Failed).Msg("broadcasting sync complete")

	h.send(MessageTypeSyncComplete, SyncCompleteData{
		Success: res.Success,
		Failed:  res.Failed,
		Pending: pending,
	})
	h.send(MessageTypePendingCount, PendingCountData{Pending: pending})
}

func (h *Handler) onQueueChanged(events.Event) {
	h.send(MessageTypePendingCount, PendingCountData{Pending: h.pending()})
}

func (h *Handler) onConnectivity(ev events.Event) {
	h.send(MessageTypeConnectivity, ConnectivityData{Online: ev.Name == events.ConnectionOnline})
}

func (h *Handler) onNotice(ev events.Event) {
	n, ok := ev.Payload.(notify.Notice)
	if !ok {
		return
	}
	h.send(MessageTypeNotice, NoticeData{
		Title:       n.Title,
		Description: n.Description,
		Variant:     string(n.Variant),
	})
}

func (h *Handler) pending() int {
	if h.queue == nil {
		return 0
	}
	return len(h.queue.Pending())
}

func (h *Handler) send(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal dashboard data")
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
