package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	sendBuffer = 256

	// maxLag is how many consecutive broadcasts a client may miss before
	// the hub disconnects it.
	maxLag = 64

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var errSlowClient = errors.New("client too slow")

// Client is one WebSocket subscriber. Only series starting with prefix
// are delivered; an empty prefix selects every series.
type Client struct {
	id     string
	conn   *websocket.Conn
	prefix string
	send   chan Message
	logger *zap.Logger

	lag      atomic.Int32
	kickOnce sync.Once
	kicked   chan struct{}
}

func newClient(id, prefix string, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		prefix: prefix,
		send:   make(chan Message, sendBuffer),
		logger: logger,
		kicked: make(chan struct{}),
	}
}

func (c *Client) wants(series string) bool {
	return series == "" || strings.HasPrefix(series, c.prefix)
}

func (c *Client) kick() {
	c.kickOnce.Do(func() { close(c.kicked) })
}

// Hub fans bus messages out to connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	clientsConnected.Set(float64(n))
	h.logger.Debug("websocket client connected", zap.String("client_id", c.id), zap.String("prefix", c.prefix))
}

// Unregister removes c and closes its send channel. Unknown clients are
// ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		clientsConnected.Set(float64(n))
		h.logger.Debug("websocket client disconnected", zap.String("client_id", c.id))
	}
}

// Broadcast queues msg for every client subscribed to msg.Series. A client
// with a full buffer misses the message; one that misses maxLag in a row
// is kicked.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(msg.Series) {
			continue
		}
		select {
		case c.send <- msg:
			c.lag.Store(0)
		default:
			messagesDropped.Inc()
			if c.lag.Add(1) == maxLag {
				slowClientsKicked.Inc()
				h.logger.Warn("disconnecting slow websocket client",
					zap.String("client_id", c.id), zap.Int("missed", maxLag))
				c.kick()
			}
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump drains c.send to the connection and pings it while idle. It
// returns when ctx ends, the hub unregisters c, c is kicked, or a write
// fails.
func (c *Client) writePump(ctx context.Context) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.kicked:
			return errSlowClient
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
