package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// Message types pushed to the dashboard
const (
	TypeConnected       = "connected"
	TypeBatchAnalyzed   = "batch_analyzed"
	TypeAnomalyDetected = "anomaly_detected"
	TypeModelsRetrained = "models_retrained"
	TypeError           = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client represents a WebSocket client connection
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	batchID string // optional: only events for this batch
}

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	logger     *logrus.Logger

	mu    sync.RWMutex
	count int
}

type outbound struct {
	batchID string
	data    []byte
}

// Message represents a WebSocket message structure
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// AnomalyEvent is the payload of an anomaly_detected message
type AnomalyEvent struct {
	BatchID     string  `json:"batch_id"`
	Efficiency  float64 `json:"efficiency"`
	Degradation float64 `json:"degradation"`
	Score       float64 `json:"score"`
	Mode        string  `json:"mode"`
}

// NewHub creates a new WebSocket hub. An empty or "*" origin list accepts
// any origin.
func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(set) == 0 || origin == "" || set[origin]
	}
}

// Run starts the WebSocket hub and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.logger.WithField("clients", len(h.clients)).Info("🔌 WebSocket client connected")

			if data, err := encode(TypeConnected, map[string]string{"status": "connected"}); err == nil {
				h.deliver(client, data)
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
				h.logger.WithField("clients", len(h.clients)).Info("WebSocket client disconnected")
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.batchID != "" && msg.batchID != "" && client.batchID != msg.batchID {
					continue
				}
				h.deliver(client, msg.data)
			}

		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			return
		}
	}
}

// deliver drops clients whose send buffer is full
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		close(client.send)
		delete(h.clients, client)
		h.setCount(len(h.clients))
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func encode(msgType string, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Timestamp: time.Now(), Data: payload})
}

func (h *Hub) publish(msgType, batchID string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.WithError(err).WithField("type", msgType).Error("Error marshaling websocket message")
		return
	}
	select {
	case h.broadcast <- outbound{batchID: batchID, data: data}:
	default:
		h.logger.WithField("type", msgType).Warn("Broadcast channel is full, dropping message")
	}
}

// BroadcastBatchAnalyzed pushes a freshly analyzed batch to all clients
func (h *Hub) BroadcastBatchAnalyzed(batch *models.BatchRecord) {
	h.publish(TypeBatchAnalyzed, batch.BatchID, batch)
}

// BroadcastAnomaly pushes an anomaly verdict to all clients
func (h *Hub) BroadcastAnomaly(event AnomalyEvent) {
	h.publish(TypeAnomalyDetected, event.BatchID, event)
}

// BroadcastModelsRetrained pushes a retrain summary
func (h *Hub) BroadcastModelsRetrained(report any) {
	h.publish(TypeModelsRetrained, "", report)
}

// BroadcastError broadcasts error messages to all clients
func (h *Hub) BroadcastError(errorMsg string) {
	h.publish(TypeError, "", map[string]string{"error": errorMsg})
}

// GetConnectedClientsCount returns the number of connected clients
func (h *Hub) GetConnectedClientsCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// HandleWebSocket handles WebSocket connection requests
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256),
		batchID: r.URL.Query().Get("batch_id"),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so pongs and close frames are processed
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}
	}
}

// writePump writes one frame per message and pings idle connections
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
