package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/monti/livestats/internal/metrics"
	"github.com/rs/zerolog"
)

type envelope struct {
	sessionID string
	data      []byte
}

// Hub maintains the set of active clients and routes each session's
// messages to the clients watching that session
type Hub struct {
	// Registered clients, grouped by session
	sessions map[string]map[*Client]bool

	// Outbound messages for one session
	publish chan envelope

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Disconnect every client of a session
	closeSession chan string

	// Mutex to protect the sessions map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions:     make(map[string]map[*Client]bool),
		publish:      make(chan envelope, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		closeSession: make(chan string, 16),
		logger:       logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, clients := range h.sessions {
				for client := range clients {
					close(client.send)
					metrics.Get().RecordWebSocketDisconnect()
				}
				delete(h.sessions, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.sessions[client.sessionID]
			if !ok {
				clients = make(map[*Client]bool)
				h.sessions[client.sessionID] = clients
			}
			clients[client] = true
			h.mu.Unlock()
			metrics.Get().RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Str("session", client.sessionID).
				Int("session_clients", len(clients)).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if h.removeLocked(client) {
				h.logger.Info().
					Str("client_id", client.id).
					Str("session", client.sessionID).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case id := <-h.closeSession:
			h.mu.Lock()
			for client := range h.sessions[id] {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			h.logger.Debug().Str("session", id).Msg("session clients closed")

		case msg := <-h.publish:
			h.deliver(msg)
		}
	}
}

// Publish marshals v and queues it for every client of the session.
// It never blocks; messages are dropped when the hub is saturated.
func (h *Hub) Publish(sessionID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("session", sessionID).Msg("failed to marshal message")
		return
	}

	select {
	case h.publish <- envelope{sessionID: sessionID, data: data}:
	default:
		metrics.Get().RecordWebSocketError()
		h.logger.Warn().Str("session", sessionID).Msg("hub publish buffer full, message dropped")
	}
}

// CloseSession disconnects all clients watching a session
func (h *Hub) CloseSession(sessionID string) {
	select {
	case h.closeSession <- sessionID:
	default:
		h.logger.Warn().Str("session", sessionID).Msg("close request dropped")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

// SessionClientCount returns the number of clients watching a session
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// deliver sends a message to every client of its session
func (h *Hub) deliver(msg envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.sessions[msg.sessionID] {
		select {
		case client.send <- msg.data:
			metrics.Get().RecordWebSocketMessage()
		default:
			// Client's send buffer is full, close and remove it
			h.removeLocked(client)
			metrics.Get().RecordWebSocketError()
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}

// removeLocked drops a client and closes its send channel. Callers must
// hold h.mu.
func (h *Hub) removeLocked(client *Client) bool {
	clients, ok := h.sessions[client.sessionID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.sessions, client.sessionID)
	}
	close(client.send)
	metrics.Get().RecordWebSocketDisconnect()
	return true
}
