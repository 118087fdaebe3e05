package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/observability"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	clientSendSize = 256
)

// EventHub fans accepted commands out to websocket subscribers. A client
// that cannot keep up is disconnected; it resumes from the command log.
type EventHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[string]bool // empty: every command type
	once  sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewEventHub(metrics *observability.Metrics, logger zerolog.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Run publishes every event from inputChan until ctx is cancelled or the
// channel is closed, then disconnects all clients.
func (h *EventHub) Run(ctx context.Context, inputChan <-chan ingestion.PublishableEvent) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-inputChan:
			if !ok {
				return nil
			}
			h.Publish(evt)
		}
	}
}

// Publish sends evt to every subscribed client without blocking.
func (h *EventHub) Publish(evt ingestion.PublishableEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("marshal stream event")
		return
	}

	h.mu.RLock()
	var slow []*wsClient
	for c := range h.clients {
		if len(c.types) > 0 && !c.types[evt.CommandType] {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("stream client too slow, disconnecting")
		if h.metrics != nil {
			h.metrics.ProjectionDrops.WithLabelValues("stream").Inc()
		}
		h.remove(c)
	}
}

// Clients returns the number of connected subscribers.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket subscription. The optional
// "types" query parameter is a comma-separated list of command types.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{
		conn:  conn,
		send:  make(chan []byte, clientSendSize),
		types: make(map[string]bool),
	}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			c.types[strings.TrimSpace(t)] = true
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump only services control frames; subscribers never send data.
func (h *EventHub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
