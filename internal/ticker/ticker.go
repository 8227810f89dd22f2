package ticker

import (
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/rs/zerolog"
)

// Scheduler re-runs a function on a fixed interval until stopped.
//
// Every Start or Reset invalidates the previous arming, so a tick that was
// already due when Stop was called never runs the old function.
type Scheduler struct {
	clock    clock.Clock
	logger   zerolog.Logger
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	timer    clock.Timer
	token    uint64
	running  bool
}

// NewScheduler creates a stopped scheduler on the given clock
func NewScheduler(clk clock.Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clk,
		logger: logger,
	}
}

// Start arms the scheduler to call fn every interval. A running schedule is
// replaced.
func (s *Scheduler) Start(interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.interval = interval
	s.fn = fn
	s.running = true
	s.armLocked()

	s.logger.Debug().Dur("interval", interval).Msg("scheduler started")
}

// Stop disarms the scheduler. It is safe to call on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug().Msg("scheduler stopped")
	}
	s.stopLocked()
}

// Reset restarts the interval countdown without changing fn
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armLocked()
}

// Running reports whether the scheduler is armed
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) stopLocked() {
	s.running = false
	s.token++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) armLocked() {
	s.token++
	token := s.token
	s.timer = s.clock.AfterFunc(s.interval, func() { s.fire(token) })
}

func (s *Scheduler) fire(token uint64) {
	s.mu.Lock()
	if !s.running || token != s.token {
		s.mu.Unlock()
		return
	}
	fn := s.fn
	s.armLocked()
	s.mu.Unlock()

	fn()
}
