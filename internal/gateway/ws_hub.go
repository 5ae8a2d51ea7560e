package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opinex/exchange-engine/internal/bus"
	"github.com/opinex/exchange-engine/internal/metrics"
)

// WSEnvelope is the JSON frame sent to WebSocket clients.
type WSEnvelope struct {
	Event   string          `json:"event"`
	Message json.RawMessage `json:"message"`
}

// wsRequest is the JSON frame a client sends to manage subscriptions.
type wsRequest struct {
	Type    string `json:"type"` // "subscribe" or "unsubscribe"
	EventID string `json:"eventId"`
}

// wsClient is one connection plus its subscriptions. writeMu serializes
// frame writes: gorilla/websocket allows one concurrent writer, and both
// fanOut and the ping ticker write to the same connection.
type wsClient struct {
	conn    *websocket.Conn
	events  map[string]bool // guarded by the hub mutex
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// WSHub manages WebSocket connections and fans book updates out to the
// clients subscribed to each event. Updates arrive on the bus channels
// book.{eventId}, published by the command processor.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient
}

// NewWSHub creates an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*websocket.Conn]*wsClient)}
}

// Run consumes book broadcasts until the context ends. Must be called in a
// goroutine before clients connect.
func (h *WSHub) Run(ctx context.Context, sub bus.Subscriber) error {
	msgs, err := sub.Subscribe(ctx, "book.*")
	if err != nil {
		return err
	}
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			eventID := msg.Channel[len("book."):]
			h.fanOut(eventID, msg.Payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHub) fanOut(eventID string, book []byte) {
	frame, err := json.Marshal(WSEnvelope{Event: "book_update", Message: book})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, client := range h.clients {
		if !client.events[eventID] {
			continue
		}
		if err := client.write(websocket.TextMessage, frame); err != nil {
			conn.Close()
			delete(h.clients, conn)
			metrics.WebSocketClients.Dec()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn, events: make(map[string]bool)}
	h.mu.Lock()
	h.clients[conn] = client
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Inc()
	slog.Info("ws client connected", "total", total)

	// Read pump: handle subscriptions and detect disconnects.
	go func() {
		defer h.drop(conn)
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if err := json.Unmarshal(data, &req); err != nil || req.EventID == "" {
				continue
			}
			h.mu.Lock()
			if c, ok := h.clients[conn]; ok {
				switch req.Type {
				case "subscribe":
					c.events[req.EventID] = true
				case "unsubscribe":
					delete(c.events, req.EventID)
				}
			}
			h.mu.Unlock()
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := client.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	if ok {
		metrics.WebSocketClients.Dec()
	}
	conn.Close()
}
