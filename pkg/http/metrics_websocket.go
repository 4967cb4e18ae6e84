package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/aggregate"
)

// MetricsFeedHandler streams freshly flushed metric rows to websocket
// subscribers. A subscriber may pin itself to one call with ?call_id=.
type MetricsFeedHandler struct {
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
	clients      map[*feedClient]bool
	clientsMu    sync.RWMutex
	register     chan *feedClient
	unregister   chan *feedClient
	broadcast    chan *feedMessage
	pingInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

type feedClient struct {
	conn      *websocket.Conn
	send      chan []byte
	handler   *MetricsFeedHandler
	callID    string
	sessionID string
}

type feedMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Rows      []aggregate.Row `json:"rows,omitempty"`
}

// NewMetricsFeedHandler creates a websocket feed handler.
func NewMetricsFeedHandler(logger *logrus.Logger) *MetricsFeedHandler {
	return &MetricsFeedHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:      make(map[*feedClient]bool),
		register:     make(chan *feedClient),
		unregister:   make(chan *feedClient),
		broadcast:    make(chan *feedMessage, 256),
		pingInterval: 30 * time.Second,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins the handler's event loop.
func (h *MetricsFeedHandler) Start() {
	go h.run()
}

// Stop closes every subscriber connection and ends the event loop. New
// upgrade requests are refused afterwards.
func (h *MetricsFeedHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// BroadcastRows queues a flushed batch for delivery to subscribers. Never
// blocks; when the broadcast buffer is full the batch is skipped.
func (h *MetricsFeedHandler) BroadcastRows(rows []aggregate.Row) {
	if len(rows) == 0 {
		return
	}
	msg := &feedMessage{
		Type:      "metric_rows",
		Timestamp: time.Now(),
		Rows:      rows,
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("Metrics feed broadcast buffer full, skipping batch")
	}
}

// ConnectedClients returns the number of active subscribers.
func (h *MetricsFeedHandler) ConnectedClients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *MetricsFeedHandler) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			h.closeAllClients()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			h.logger.WithFields(logrus.Fields{
				"session_id": client.sessionID,
				"call_id":    client.callID,
			}).Debug("Metrics feed client registered")

		case client := <-h.unregister:
			h.cleanupClients([]*feedClient{client})

		case message := <-h.broadcast:
			if stale := h.broadcastMessage(message); len(stale) > 0 {
				h.cleanupClients(stale)
			}

		case <-ticker.C:
			if stale := h.sendPingToAll(); len(stale) > 0 {
				h.cleanupClients(stale)
			}
		}
	}
}

func (h *MetricsFeedHandler) broadcastMessage(message *feedMessage) []*feedClient {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	var stale []*feedClient
	for client := range h.clients {
		rows := message.Rows
		if client.callID != "" {
			rows = filterRows(message.Rows, client.callID)
			if len(rows) == 0 {
				continue
			}
		}

		data, err := json.Marshal(&feedMessage{
			Type:      message.Type,
			Timestamp: message.Timestamp,
			Rows:      rows,
		})
		if err != nil {
			h.logger.WithError(err).Error("Failed to marshal metrics feed message")
			continue
		}

		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}
	return stale
}

func filterRows(rows []aggregate.Row, callID string) []aggregate.Row {
	var out []aggregate.Row
	for _, row := range rows {
		if row.CallID == callID {
			out = append(out, row)
		}
	}
	return out
}

func (h *MetricsFeedHandler) sendPingToAll() []*feedClient {
	data, _ := json.Marshal(&feedMessage{Type: "ping", Timestamp: time.Now()})

	h.clientsMu.RLock()
	clients := make([]*feedClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	var stale []*feedClient
	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}
	return stale
}

func (h *MetricsFeedHandler) closeAllClients() {
	h.clientsMu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.clientsMu.Unlock()
}

func (h *MetricsFeedHandler) cleanupClients(clients []*feedClient) {
	if len(clients) == 0 {
		return
	}

	h.clientsMu.Lock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.logger.WithField("session_id", client.sessionID).Debug("Metrics feed client unregistered")
		}
	}
	h.clientsMu.Unlock()
}

// ServeHTTP handles websocket upgrade requests.
func (h *MetricsFeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &feedClient{
		conn:      conn,
		send:      make(chan []byte, 64),
		handler:   h,
		callID:    r.URL.Query().Get("call_id"),
		sessionID: uuid.New().String(),
	}

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *feedClient) readPump() {
	defer func() {
		select {
		case c.handler.unregister <- c:
		case <-c.handler.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		// Subscribers are read-only; drain until the peer goes away.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.handler.logger.WithError(err).Debug("Metrics feed read error")
			}
			return
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(45 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
