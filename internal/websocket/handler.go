package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/dennisdiepolder/monti/livestats/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Sessions is what the handler needs from the session registry
type Sessions interface {
	// Connected is called before the upgrade. It returns the messages a new
	// client should receive first, or false for an unknown session.
	Connected(sessionID string) ([]any, bool)
	// ClientMessage handles a message sent by a dashboard
	ClientMessage(sessionID string, data []byte)
}

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	sessions Sessions
	upgrader websocket.Upgrader
	config   *config.Config
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, sessions Sessions, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:      hub,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP handles WebSocket upgrade requests for /ws?session={id}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session query parameter is required", http.StatusBadRequest)
		return
	}

	initial, ok := h.sessions.Connected(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	// Create new client
	client := NewClient(h.hub, conn, sessionID, h.config, h.logger)
	client.onMessage = h.sessions.ClientMessage

	// Queue the current state before any published message
	for _, msg := range initial {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to marshal initial message")
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}

	// Register client with hub
	h.hub.register <- client

	// Start client pumps
	client.Start()
}

// checkOrigin accepts requests without an Origin header and origins listed
// in ALLOWED_ORIGINS. "*" allows every origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.config == nil {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}
