package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"choch-scanner/internal/database"
	"choch-scanner/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard page is served from another origin.
		return true
	},
}

const (
	// historyCapacity bounds the in-memory alert ring behind the hub.
	historyCapacity = 100
	// historyReplay is the most records replayed to a connecting client.
	historyReplay = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// wsEvent is the single-channel event envelope pushed to clients.
type wsEvent struct {
	Type string      `json:"type"` // "alert" or "alerts_history"
	Data interface{} `json:"data"`
}

// WSClient is one connected dashboard socket.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans alert events out to connected dashboard clients and replays
// recent history on connect.
type WSHub struct {
	clients        map[*WSClient]bool
	register       chan *WSClient
	unregister     chan *WSClient
	requestHistory chan *WSClient
	broadcast      chan []byte
	clientCount    atomic.Int64

	mu      sync.RWMutex
	history []*database.Alert

	logger *logging.Logger
}

// NewWSHub creates a hub. Run must be started for it to deliver anything.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:        make(map[*WSClient]bool),
		register:       make(chan *WSClient),
		unregister:     make(chan *WSClient),
		requestHistory: make(chan *WSClient),
		broadcast:      make(chan []byte, 256),
		logger:         logging.WithComponent("ws-hub"),
	}
}

// Run drives the hub's register/unregister/broadcast loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.clientCount.Store(int64(len(h.clients)))
			h.sendHistory(client)
			h.logger.Debug("Dashboard client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientCount.Store(int64(len(h.clients)))
			h.logger.Debug("Dashboard client disconnected", "clients", len(h.clients))

		case client := <-h.requestHistory:
			// Replay only for clients still registered; a dropped client's
			// send channel is already closed.
			if _, ok := h.clients[client]; ok {
				h.sendHistory(client)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it rather than stalling the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.clientCount.Store(int64(len(h.clients)))
		}
	}
}

// BroadcastAlert records the alert in the history ring and pushes an
// "alert" event to every connected client. Never blocks the caller.
func (h *WSHub) BroadcastAlert(alert *database.Alert) {
	h.mu.Lock()
	h.history = append(h.history, alert)
	if len(h.history) > historyCapacity {
		h.history = h.history[len(h.history)-historyCapacity:]
	}
	h.mu.Unlock()

	data, err := json.Marshal(wsEvent{Type: "alert", Data: alert})
	if err != nil {
		h.logger.Error("Failed to marshal alert event", "error", err.Error())
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast channel full, dropping alert event")
	}
}

// History returns the newest records from the ring, at most limit of them,
// oldest first.
func (h *WSHub) History(limit int) []*database.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := h.history
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]*database.Alert, len(records))
	copy(out, records)
	return out
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	return int(h.clientCount.Load())
}

// sendHistory replays recent alerts to a freshly connected client.
func (h *WSHub) sendHistory(client *WSClient) {
	data, err := json.Marshal(wsEvent{Type: "alerts_history", Data: h.History(historyReplay)})
	if err != nil {
		h.logger.Error("Failed to marshal history event", "error", err.Error())
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// handleWebSocket upgrades the request and starts the client pumps.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err.Error())
		return
	}

	client := &WSClient{conn: conn, send: make(chan []byte, 64), hub: s.hub}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pushes hub messages to the socket and pings on an interval.
func (c *WSClient) writePump() {
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

// readPump consumes client messages. The only recognised request is a
// history replay; everything else keeps the connection alive.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &req); err == nil && req.Type == "request_history" {
			// Replays go through the hub goroutine; it owns the client set
			// and the send channel lifecycle.
			c.hub.requestHistory <- c
		}
	}
}
