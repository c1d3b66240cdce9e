package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aixgo-dev/agora/pkg/observability"
)

const (
	// writeWait is the deadline for a single write to a client.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead. Pongs and client frames both renew it.
	pongWait = 60 * time.Second

	// pingPeriod is the interval between server pings. Must be shorter
	// than pongWait.
	pingPeriod = 30 * time.Second

	// maxMessageSize bounds inbound frames; clients only ever send
	// short heartbeat payloads.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, prefix := range []string{
			"http://localhost", "http://127.0.0.1",
			"https://localhost", "https://127.0.0.1",
		} {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
		log.Printf("[WS] WARNING: rejected connection from origin %s", origin)
		return false
	},
}

// WSEvent is a framework event pushed to connected clients.
type WSEvent struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// WSClient is a single WebSocket connection managed by the hub.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu     sync.Mutex
	closed bool
}

// trySend queues data without blocking. It reports false when the queue is
// full or already closed.
func (c *WSClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send queue exactly once. readPump may race a hub
// shutdown, so sends go through trySend rather than the raw channel.
func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WSHub fans framework events out to every connected WebSocket client.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WSEvent
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a hub. Call Run to start event delivery.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSEvent, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			observability.SetWSConnections(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetWSConnections(count)
			log.Printf("[WS] Client connected (%d active)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				client.closeSend()
				delete(h.clients, client)
			}
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetWSConnections(count)
			log.Printf("[WS] Client disconnected (%d active)", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[WS] WARNING: dropping unmarshalable event %s: %v", event.Type, err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				if !client.trySend(data) {
					// Slow consumer, drop it rather than stall the hub.
					client.closeSend()
					delete(h.clients, client)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetWSConnections(count)
		}
	}
}

// Broadcast queues an event for delivery to all clients. It never blocks;
// if the hub's queue is full the event is dropped.
func (h *WSHub) Broadcast(eventType string, data any) {
	event := WSEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- event:
	default:
		log.Printf("[WS] WARNING: event queue full, dropping %s", eventType)
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an HTTP request and attaches the connection
// to the hub.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes client frames. The UI only sends "ping" heartbeats,
// which are answered with "pong" through the send queue.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if string(data) == "ping" {
			c.trySend([]byte("pong"))
		}
	}
}

// writePump writes queued events and keeps the connection alive with
// periodic pings.
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
