package websocket

import (
	"sync"

	"github.com/prappser/splatfetch/internal/status"
	"github.com/rs/zerolog/log"
)

// Hub fans status messages out to every connected client.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *StatusMessage
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *StatusMessage, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastStatus(message)

		case <-h.done:
			return
		}
	}
}

// Stop ends Run. Connected clients are left to their pumps.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client unregistered")
}

func (h *Hub) broadcastStatus(msg *StatusMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			log.Warn().
				Str("clientId", client.id).
				Msg("[WS] Client send buffer full, dropping message")
		}
	}

	log.Debug().
		Str("state", string(msg.Status.State)).
		Int("recipients", len(clients)).
		Msg("[WS] Status broadcast complete")
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Notify queues s for every client. It never blocks; when the queue is full
// the update is dropped.
func (h *Hub) Notify(s status.Status) {
	select {
	case h.broadcast <- NewStatusMessage(s):
	default:
		log.Warn().Str("state", string(s.Kind())).Msg("[WS] Broadcast queue full, dropping status")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
