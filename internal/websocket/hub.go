package websocket

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans session journal events out to connected dashboards. A client
// receives the events of its own user; admin clients receive every event.
type Hub struct {
	clients    map[int64]map[*Client]bool
	admins     map[*Client]bool
	mu         sync.RWMutex
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	log        *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		admins:     make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.With("component", "websocket"),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop ends Run and closes every client's send channel.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.IsAdmin {
		h.admins[client] = true
	} else {
		if _, ok := h.clients[client.UserID]; !ok {
			h.clients[client.UserID] = make(map[*Client]bool)
		}
		h.clients[client.UserID][client] = true
	}
	h.log.Debug("client registered", "user_id", client.UserID, "admin", client.IsAdmin)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.IsAdmin {
		if _, ok := h.admins[client]; ok {
			delete(h.admins, client)
			close(client.send)
		}
		return
	}
	if userClients, ok := h.clients[client.UserID]; ok {
		if _, ok := userClients[client]; ok {
			delete(userClients, client)
			close(client.send)
			if len(userClients) == 0 {
				delete(h.clients, client.UserID)
			}
			h.log.Debug("client unregistered", "user_id", client.UserID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.admins {
		close(c.send)
	}
	h.admins = make(map[*Client]bool)
	for userID, userClients := range h.clients {
		for c := range userClients {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) deliver(client *Client, userID int64, eventData []byte) {
	select {
	case client.send <- eventData:
	default:
		h.log.Warn("client send buffer is full, dropping message", "user_id", userID)
	}
}

func (h *Hub) PublishEvent(userID int64, eventData []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		h.deliver(client, userID, eventData)
	}
	for client := range h.admins {
		h.deliver(client, userID, eventData)
	}
}

// ClientCount returns the number of registered clients, admins included.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.admins)
	for _, userClients := range h.clients {
		n += len(userClients)
	}
	return n
}
