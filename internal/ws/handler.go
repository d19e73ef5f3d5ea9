package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/HerbHall/winstat/pkg/roles"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler streams window updates and anomalies to WebSocket clients.
type Handler struct {
	hub     *Hub
	windows roles.WindowProvider
	origins []string
	logger  *zap.Logger
	unsubs  []func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to analytics
// events. windows may be nil, in which case clients get an empty snapshot.
// originPatterns lists extra allowed Origin hosts besides the request host.
func NewHandler(bus plugin.Subscriber, windows roles.WindowProvider, logger *zap.Logger, originPatterns ...string) *Handler {
	h := &Handler{
		hub:     NewHub(logger),
		windows: windows,
		origins: originPatterns,
		logger:  logger,
	}
	h.subscribeToEvents(bus)
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/windows", h.handleWindowStream)
}

// Close detaches the handler from the event bus.
func (h *Handler) Close() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

// handleWindowStream upgrades the connection to WebSocket, sends a snapshot
// of the current windows, then streams changes. ?prefix= narrows the stream
// to series starting with that prefix.
func (h *Handler) handleWindowStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), r.URL.Query().Get("prefix"), conn, h.logger)

	// Clients never send; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	h.hub.Register(client)
	select {
	case client.send <- h.snapshot(ctx, client.prefix):
	default:
	}

	err = client.writePump(ctx)
	h.hub.Unregister(client)

	if errors.Is(err, errSlowClient) {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) snapshot(ctx context.Context, prefix string) Message {
	windows := []analytics.WindowStat{}
	if h.windows != nil {
		for _, w := range h.windows.Windows(ctx) {
			if strings.HasPrefix(w.Series, prefix) {
				windows = append(windows, w)
			}
		}
	}
	return Message{
		Type:      MessageSnapshot,
		Timestamp: time.Now().UTC(),
		Data:      windows,
	}
}

// subscribeToEvents forwards analytics events to connected clients.
func (h *Handler) subscribeToEvents(bus plugin.Subscriber) {
	if bus == nil {
		return
	}

	h.unsubs = append(h.unsubs,
		bus.Subscribe(analytics.TopicWindowUpdated, func(_ context.Context, event plugin.Event) {
			stat, ok := event.Payload.(analytics.WindowStat)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageWindowUpdated,
				Series:    stat.Series,
				Timestamp: event.Timestamp,
				Data:      stat,
			})
		}),
		bus.Subscribe(analytics.TopicAnomalyDetected, h.forwardAnomaly(MessageAnomalyDetected)),
		bus.Subscribe(analytics.TopicAnomalyResolved, h.forwardAnomaly(MessageAnomalyResolved)),
	)

	h.logger.Info("subscribed to analytics events for WebSocket broadcasting")
}

func (h *Handler) forwardAnomaly(typ MessageType) plugin.EventHandler {
	return func(_ context.Context, event plugin.Event) {
		a, ok := event.Payload.(*analytics.Anomaly)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      typ,
			Series:    a.Series,
			Timestamp: event.Timestamp,
			Data:      a,
		})
	}
}
