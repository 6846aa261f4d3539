package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hudacode/prayerlog/internal/bus"
)

// Hub manages WebSocket subscribers and fans out live update messages.
//
// Every successful store mutation is broadcast to all open connections,
// including the originator; clients run an idempotent reconcile on
// receipt, so the echo is harmless.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan bus.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewHub creates a hub. Run must be called before broadcasts are delivered.
// If logger is nil, a default logger writing to stderr is used.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan bus.Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Run starts the broadcast loop. It returns immediately.
func (h *Hub) Run() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every connection and waits for the broadcast loop to exit.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues a message for delivery to all connected clients.
// Messages are dropped with a warning when the queue is full rather than
// blocking a request handler.
func (h *Hub) Broadcast(msg bus.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
		return
	default:
		h.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// broadcastLoop delivers queued messages to every client.
func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Printf("Failed to send to client: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection, sends the connected handshake,
// and registers the client.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected (total: %d)", clientCount)

	welcome, _ := bus.New(bus.MessageTypeConnected, nil)
	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()

	go h.readLoop(conn)
}

// readLoop keeps the connection alive and cleans up on disconnect.
// Client messages are not processed; the channel is push-only.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		_, _, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection.
func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		h.clientsMu.Unlock()
	}
}
