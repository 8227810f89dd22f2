package notify

import (
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/dennisdiepolder/monti/livestats/internal/metrics"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
)

// Retirement reasons
const (
	ReasonExpired   = "expired"
	ReasonDismissed = "dismissed"
	ReasonCleared   = "cleared"
)

const (
	DefaultDisplayDuration   = 5 * time.Second
	DefaultMilestoneDuration = 7 * time.Second
)

// Listener is told when an event enters or leaves the active slot
type Listener interface {
	Activated(event types.NotificationEvent, displayUntil time.Time)
	Retired(event types.NotificationEvent, reason string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnActivated func(event types.NotificationEvent, displayUntil time.Time)
	OnRetired   func(event types.NotificationEvent, reason string)
}

func (l ListenerFuncs) Activated(event types.NotificationEvent, displayUntil time.Time) {
	if l.OnActivated != nil {
		l.OnActivated(event, displayUntil)
	}
}

func (l ListenerFuncs) Retired(event types.NotificationEvent, reason string) {
	if l.OnRetired != nil {
		l.OnRetired(event, reason)
	}
}

// Options configures a Sequencer
type Options struct {
	DisplayDuration   time.Duration
	MilestoneDuration time.Duration
	Clock             clock.Clock
	Listener          Listener
}

// Status is a point-in-time view of the sequencer
type Status struct {
	Active       *types.NotificationEvent `json:"active,omitempty"`
	DisplayUntil *time.Time               `json:"displayUntil,omitempty"`
	QueueLength  int                      `json:"queueLength"`
}

// Sequencer shows notification events one at a time in arrival order.
// The active event retires after its display duration or when dismissed,
// and the head of the queue takes its place.
type Sequencer struct {
	mu        sync.Mutex
	clock     clock.Clock
	listener  Listener
	display   time.Duration
	milestone time.Duration
	logger    zerolog.Logger

	queue        []types.NotificationEvent
	active       *types.NotificationEvent
	displayUntil time.Time
	timer        clock.Timer
	token        uint64
}

// NewSequencer creates an empty sequencer
func NewSequencer(opts Options, logger zerolog.Logger) *Sequencer {
	if opts.DisplayDuration <= 0 {
		opts.DisplayDuration = DefaultDisplayDuration
	}
	if opts.MilestoneDuration <= 0 {
		opts.MilestoneDuration = DefaultMilestoneDuration
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Listener == nil {
		opts.Listener = ListenerFuncs{}
	}
	return &Sequencer{
		clock:     opts.Clock,
		listener:  opts.Listener,
		display:   opts.DisplayDuration,
		milestone: opts.MilestoneDuration,
		logger:    logger.With().Str("component", "sequencer").Logger(),
	}
}

// Enqueue appends events in order. If nothing is showing, the first one
// becomes active immediately.
func (s *Sequencer) Enqueue(events ...types.NotificationEvent) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, events...)
	for _, e := range events {
		metrics.Get().RecordNotification(string(e.Category))
	}
	notifications := s.promoteLocked()
	s.mu.Unlock()

	s.logger.Debug().Int("count", len(events)).Msg("notifications enqueued")
	run(notifications)
}

// Dismiss retires the active event if its id matches. Returns false when
// the id is not the active event.
func (s *Sequencer) Dismiss(id string) bool {
	s.mu.Lock()
	if s.active == nil || s.active.ID != id {
		s.mu.Unlock()
		return false
	}
	notifications := s.retireLocked(ReasonDismissed)
	notifications = append(notifications, s.promoteLocked()...)
	s.mu.Unlock()

	run(notifications)
	return true
}

// Clear drops the queue and the active event and cancels the display timer
func (s *Sequencer) Clear() {
	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	var notifications []func()
	if s.active != nil {
		notifications = s.retireLocked(ReasonCleared)
	}
	s.mu.Unlock()

	if dropped > 0 || len(notifications) > 0 {
		s.logger.Debug().Int("dropped", dropped).Msg("notifications cleared")
	}
	run(notifications)
}

// Status returns the active event and queue length
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{QueueLength: len(s.queue)}
	if s.active != nil {
		active := *s.active
		until := s.displayUntil
		st.Active = &active
		st.DisplayUntil = &until
	}
	return st
}

// Pending returns the queued events that are not yet active
func (s *Sequencer) Pending() []types.NotificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.NotificationEvent(nil), s.queue...)
}

func (s *Sequencer) durationFor(e types.NotificationEvent) time.Duration {
	if e.Category == types.CategoryPositive {
		return s.milestone
	}
	return s.display
}

// promoteLocked moves the queue head into an empty active slot
func (s *Sequencer) promoteLocked() []func() {
	if s.active != nil || len(s.queue) == 0 {
		return nil
	}

	next := s.queue[0]
	s.queue = s.queue[1:]
	s.active = &next

	d := s.durationFor(next)
	s.displayUntil = s.clock.Now().Add(d)
	s.token++
	token := s.token
	s.timer = s.clock.AfterFunc(d, func() { s.expire(token) })

	until := s.displayUntil
	listener := s.listener
	return []func(){func() { listener.Activated(next, until) }}
}

// retireLocked empties the active slot
func (s *Sequencer) retireLocked(reason string) []func() {
	if s.active == nil {
		return nil
	}
	retired := *s.active
	s.active = nil
	s.displayUntil = time.Time{}
	s.token++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	metrics.Get().RecordNotificationRetired(reason)
	listener := s.listener
	return []func(){func() { listener.Retired(retired, reason) }}
}

func (s *Sequencer) expire(token uint64) {
	s.mu.Lock()
	if token != s.token || s.active == nil {
		s.mu.Unlock()
		return
	}
	notifications := s.retireLocked(ReasonExpired)
	notifications = append(notifications, s.promoteLocked()...)
	s.mu.Unlock()

	run(notifications)
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
