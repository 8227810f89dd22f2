package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/dennisdiepolder/monti/livestats/internal/differ"
	"github.com/dennisdiepolder/monti/livestats/internal/metrics"
	"github.com/dennisdiepolder/monti/livestats/internal/normalize"
	"github.com/dennisdiepolder/monti/livestats/internal/notify"
	"github.com/dennisdiepolder/monti/livestats/internal/poller"
	"github.com/dennisdiepolder/monti/livestats/internal/source"
	"github.com/dennisdiepolder/monti/livestats/internal/ticker"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Publisher pushes session messages to connected dashboards
type Publisher interface {
	Publish(sessionID string, v any)
	CloseSession(sessionID string)
	SessionClientCount(sessionID string) int
}

// Options configures every session created by a Manager
type Options struct {
	Source            source.Source
	Clock             clock.Clock
	PollInterval      time.Duration
	StatsTimeout      time.Duration
	DisplayDuration   time.Duration
	MilestoneDuration time.Duration
	IdleTimeout       time.Duration
	Location          *time.Location
	Classifier        normalize.Classifier
	Labeler           differ.Labeler
	Publisher         Publisher
}

// Session is one dashboard's filter session
type Session struct {
	ID         string
	CreatedAt  time.Time
	Controller *poller.Controller
	Sequencer  *notify.Sequencer

	mu       sync.Mutex
	lastSeen time.Time
}

// Status is the API view of a session
type Status struct {
	SessionID    string                    `json:"sessionId"`
	CreatedAt    time.Time                 `json:"createdAt"`
	State        poller.StateView          `json:"state"`
	Notification notify.Status             `json:"notification"`
	Pending      []types.NotificationEvent `json:"pending"`
}

// Status returns the current state of the session
func (s *Session) Status() Status {
	return Status{
		SessionID:    s.ID,
		CreatedAt:    s.CreatedAt,
		State:        s.Controller.View(),
		Notification: s.Sequencer.Status(),
		Pending:      s.Sequencer.Pending(),
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Manager owns all dashboard sessions
type Manager struct {
	opts   Options
	reaper *ticker.Scheduler
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. Call StartReaper to expire idle sessions.
func NewManager(opts Options, logger zerolog.Logger) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	logger = logger.With().Str("component", "sessions").Logger()
	return &Manager{
		opts:     opts,
		reaper:   ticker.NewScheduler(opts.Clock, logger),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new idle session
func (m *Manager) Create() *Session {
	id := uuid.New().String()
	now := m.opts.Clock.Now()
	pub := m.opts.Publisher

	seq := notify.NewSequencer(notify.Options{
		DisplayDuration:   m.opts.DisplayDuration,
		MilestoneDuration: m.opts.MilestoneDuration,
		Clock:             m.opts.Clock,
		Listener: notify.ListenerFuncs{
			OnActivated: func(e types.NotificationEvent, until time.Time) {
				pub.Publish(id, types.NotificationMessage{
					Type:         types.MessageNotification,
					SessionID:    id,
					Event:        e,
					DisplayUntil: until,
				})
			},
			OnRetired: func(e types.NotificationEvent, reason string) {
				pub.Publish(id, types.NotificationRetiredMessage{
					Type:      types.MessageNotificationRetired,
					SessionID: id,
					EventID:   e.ID,
					Reason:    reason,
				})
			},
		},
	}, m.logger.With().Str("session", id).Logger())

	ctrl := poller.New(poller.Options{
		SessionID:    id,
		Source:       m.opts.Source,
		Clock:        m.opts.Clock,
		PollInterval: m.opts.PollInterval,
		StatsTimeout: m.opts.StatsTimeout,
		Location:     m.opts.Location,
		Classifier:   m.opts.Classifier,
		Labeler:      m.opts.Labeler,
		Notifier:     seq,
		Observer: poller.ObserverFunc(func(view poller.StateView) {
			pub.Publish(id, m.stateMessage(id, view))
		}),
	}, m.logger)

	s := &Session{
		ID:         id,
		CreatedAt:  now,
		Controller: ctrl,
		Sequencer:  seq,
		lastSeen:   now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.Get().SetActiveSessions(count)
	m.logger.Info().Str("session", id).Int("sessions", count).Msg("session created")
	return s
}

// Get returns a session and marks it as used
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch(m.opts.Clock.Now())
	}
	return s, ok
}

// Delete stops a session and disconnects its dashboards
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}

	m.stop(s)
	metrics.Get().SetActiveSessions(count)
	m.logger.Info().Str("session", id).Int("sessions", count).Msg("session deleted")
	return true
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap deletes sessions that were not used for IdleTimeout and have no
// connected dashboard. It returns the number of deleted sessions.
func (m *Manager) Reap() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.opts.Clock.Now().Add(-m.opts.IdleTimeout)

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) && m.opts.Publisher.SessionClientCount(id) == 0 {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if m.Delete(id) {
			n++
		}
	}
	if n > 0 {
		m.logger.Info().Int("reaped", n).Msg("idle sessions removed")
	}
	return n
}

// StartReaper checks for idle sessions every interval
func (m *Manager) StartReaper(interval time.Duration) {
	m.reaper.Start(interval, func() { m.Reap() })
}

// Close stops the reaper and every session
func (m *Manager) Close() {
	m.reaper.Stop()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.stop(s)
	}
	metrics.Get().SetActiveSessions(0)
}

// Connected returns the messages a newly connected dashboard receives first
func (m *Manager) Connected(id string) ([]any, bool) {
	s, ok := m.Get(id)
	if !ok {
		return nil, false
	}

	initial := []any{m.stateMessage(id, s.Controller.View())}
	if st := s.Sequencer.Status(); st.Active != nil {
		initial = append(initial, types.NotificationMessage{
			Type:         types.MessageNotification,
			SessionID:    id,
			Event:        *st.Active,
			DisplayUntil: *st.DisplayUntil,
		})
	}
	return initial, true
}

// clientMessage is sent by dashboards over the WebSocket
type clientMessage struct {
	Type    string `json:"type"`
	EventID string `json:"eventId,omitempty"`
}

// ClientMessage handles dashboard messages. Only "dismiss" is understood.
func (m *Manager) ClientMessage(id string, data []byte) {
	s, ok := m.Get(id)
	if !ok {
		return
	}

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Debug().Err(err).Str("session", id).Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case "dismiss":
		s.Sequencer.Dismiss(msg.EventID)
	default:
		m.logger.Debug().Str("session", id).Str("type", msg.Type).Msg("ignoring client message")
	}
}

func (m *Manager) stop(s *Session) {
	s.Controller.Close()
	s.Sequencer.Clear()
	m.opts.Publisher.CloseSession(s.ID)
}

func (m *Manager) stateMessage(id string, view poller.StateView) types.StateMessage {
	return types.StateMessage{
		Type:      types.MessageState,
		SessionID: id,
		State:     view,
		Timestamp: m.opts.Clock.Now(),
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any)           {}
func (nopPublisher) CloseSession(string)           {}
func (nopPublisher) SessionClientCount(string) int { return 0 }
