package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/livestats/internal/poller"
	"github.com/dennisdiepolder/monti/livestats/internal/session"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SessionsHandler exposes dashboard filter sessions over REST
type SessionsHandler struct {
	manager *session.Manager
	logger  zerolog.Logger
}

// NewSessionsHandler creates a new SessionsHandler
func NewSessionsHandler(manager *session.Manager, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		manager: manager,
		logger:  logger.With().Str("component", "sessions_handler").Logger(),
	}
}

// Routes returns the router mounted at /api/sessions
func (h *SessionsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{sessionId}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Put("/filters", h.UpdateFilters)
		r.Post("/search", h.Search)
		r.Post("/refresh", h.Refresh)
		r.Post("/notifications/{eventId}/dismiss", h.Dismiss)
	})
	return r
}

// Create starts a new idle session
// POST /api/sessions
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.manager.Create()
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": s.ID})
}

// Get returns the session state, the active notification and the queue
// GET /api/sessions/{sessionId}
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// Delete stops the session and disconnects its dashboards
// DELETE /api/sessions/{sessionId}
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Delete(chi.URLParam(r, "sessionId")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateFilters records a filter edit without fetching
// PUT /api/sessions/{sessionId}/filters
func (h *SessionsHandler) UpdateFilters(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	filters, ok := decodeFilters(w, r)
	if !ok {
		return
	}
	if err := s.Controller.MarkDirty(filters); err != nil {
		h.controllerError(w, s.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.View())
}

// Search applies the filters and fetches immediately
// POST /api/sessions/{sessionId}/search
func (h *SessionsHandler) Search(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	filters, ok := decodeFilters(w, r)
	if !ok {
		return
	}
	if err := s.Controller.Search(filters); err != nil {
		h.controllerError(w, s.ID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Controller.View())
}

// Refresh re-runs the search with the current filters
// POST /api/sessions/{sessionId}/refresh
func (h *SessionsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Controller.Refresh(); err != nil {
		h.controllerError(w, s.ID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Controller.View())
}

// Dismiss retires the active notification early
// POST /api/sessions/{sessionId}/notifications/{eventId}/dismiss
func (h *SessionsHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if !s.Sequencer.Dismiss(chi.URLParam(r, "eventId")) {
		http.Error(w, "notification not active", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.manager.Get(chi.URLParam(r, "sessionId"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
	}
	return s, ok
}

func (h *SessionsHandler) controllerError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, poller.ErrInvalidFilters):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, poller.ErrNoFilters):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, poller.ErrClosed):
		http.Error(w, "session not found", http.StatusNotFound)
	default:
		h.logger.Error().Err(err).Str("session", sessionID).Msg("session action failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeFilters(w http.ResponseWriter, r *http.Request) (types.FilterSet, bool) {
	var filters types.FilterSet
	if err := json.NewDecoder(r.Body).Decode(&filters); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return filters, false
	}
	return filters, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
