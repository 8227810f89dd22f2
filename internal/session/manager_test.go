package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/dennisdiepolder/monti/livestats/internal/notify"
	"github.com/dennisdiepolder/monti/livestats/internal/poller"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const today = "2026-03-02"

type counterSource struct {
	mu    sync.Mutex
	count int
}

func (s *counterSource) FetchStats(_ context.Context, f types.FilterSet) ([]types.StatRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []types.StatRow{{
		AgentID:   f.AgentIDs[0],
		AgentName: "Anna",
		ProjectID: f.ProjectIDs[0],
		Date:      today,
		Outcomes:  map[string]int{"Termin vereinbart": s.count},
	}}, nil
}

func (s *counterSource) FetchCallRecords(context.Context, types.FilterSet) ([]types.RawCallRecord, error) {
	return nil, nil
}

func (s *counterSource) FetchCatalog(context.Context) (types.Catalog, error) {
	return types.Catalog{}, nil
}

func (s *counterSource) set(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = n
}

type recordingPublisher struct {
	mu      sync.Mutex
	msgs    map[string][]any
	closed  []string
	clients map[string]int
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{msgs: make(map[string][]any), clients: make(map[string]int)}
}

func (p *recordingPublisher) Publish(id string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs[id] = append(p.msgs[id], v)
}

func (p *recordingPublisher) CloseSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, id)
}

func (p *recordingPublisher) SessionClientCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[id]
}

func (p *recordingPublisher) sent(id string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.msgs[id]...)
}

func filters() types.FilterSet {
	return types.FilterSet{AgentIDs: []string{"a1"}, ProjectIDs: []string{"p1"}, DateFrom: today, DateTo: today}
}

type harness struct {
	mgr   *Manager
	clock *clock.Manual
	pub   *recordingPublisher
	src   *counterSource
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		pub:   newRecordingPublisher(),
		src:   &counterSource{count: 1},
	}
	h.mgr = NewManager(Options{
		Source:       h.src,
		Clock:        h.clock,
		PollInterval: 10 * time.Second,
		StatsTimeout: time.Second,
		IdleTimeout:  time.Minute,
		Location:     time.UTC,
		Publisher:    h.pub,
	}, zerolog.Nop())
	t.Cleanup(h.mgr.Close)
	return h
}

func TestCreateGetDelete(t *testing.T) {
	h := newHarness(t)

	s := h.mgr.Create()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, h.mgr.Count())

	got, ok := h.mgr.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, poller.StateIdle, got.Status().State.State)

	assert.True(t, h.mgr.Delete(s.ID))
	assert.False(t, h.mgr.Delete(s.ID))
	assert.Equal(t, 0, h.mgr.Count())
	assert.Equal(t, []string{s.ID}, h.pub.closed)

	_, ok = h.mgr.Get(s.ID)
	assert.False(t, ok)
}

func TestSessionPublishesStateAndNotifications(t *testing.T) {
	h := newHarness(t)
	s := h.mgr.Create()

	require.NoError(t, s.Controller.Search(filters()))
	s.Controller.Wait()

	h.src.set(3)
	h.clock.Advance(10 * time.Second)
	s.Controller.Wait()

	var states []types.StateMessage
	var shown []types.NotificationMessage
	for _, msg := range h.pub.sent(s.ID) {
		switch m := msg.(type) {
		case types.StateMessage:
			states = append(states, m)
		case types.NotificationMessage:
			shown = append(shown, m)
		}
	}
	require.NotEmpty(t, states)
	last := states[len(states)-1].State.(poller.StateView)
	assert.Equal(t, poller.StateAutoPolling, last.State)

	require.Len(t, shown, 1)
	assert.Equal(t, 2, shown[0].Event.Delta)
	assert.Equal(t, "Anna", shown[0].Event.SubjectName)
	assert.Equal(t, h.clock.Now().Add(notify.DefaultMilestoneDuration), shown[0].DisplayUntil)

	status := s.Status()
	require.NotNil(t, status.Notification.Active)
	assert.Equal(t, shown[0].Event.ID, status.Notification.Active.ID)

	h.clock.Advance(notify.DefaultMilestoneDuration)
	msgs := h.pub.sent(s.ID)
	retired, ok := msgs[len(msgs)-1].(types.NotificationRetiredMessage)
	require.True(t, ok, "expected a retired message, got %T", msgs[len(msgs)-1])
	assert.Equal(t, notify.ReasonExpired, retired.Reason)
	assert.Equal(t, shown[0].Event.ID, retired.EventID)
}

func TestConnectedSendsStateAndActiveNotification(t *testing.T) {
	h := newHarness(t)
	s := h.mgr.Create()

	initial, ok := h.mgr.Connected(s.ID)
	require.True(t, ok)
	require.Len(t, initial, 1)
	assert.IsType(t, types.StateMessage{}, initial[0])

	s.Sequencer.Enqueue(types.NotificationEvent{ID: "e1", Category: types.CategoryNeutral})
	initial, ok = h.mgr.Connected(s.ID)
	require.True(t, ok)
	require.Len(t, initial, 2)
	note := initial[1].(types.NotificationMessage)
	assert.Equal(t, "e1", note.Event.ID)

	_, ok = h.mgr.Connected("unknown")
	assert.False(t, ok)
}

func TestClientDismissMessage(t *testing.T) {
	h := newHarness(t)
	s := h.mgr.Create()
	s.Sequencer.Enqueue(
		types.NotificationEvent{ID: "e1"},
		types.NotificationEvent{ID: "e2"},
	)

	h.mgr.ClientMessage(s.ID, []byte(`{"type":"dismiss","eventId":"e1"}`))
	require.NotNil(t, s.Sequencer.Status().Active)
	assert.Equal(t, "e2", s.Sequencer.Status().Active.ID)

	h.mgr.ClientMessage(s.ID, []byte(`not json`))
	h.mgr.ClientMessage(s.ID, []byte(`{"type":"hello"}`))
	assert.Equal(t, "e2", s.Sequencer.Status().Active.ID)
}

func TestReapIdleSessions(t *testing.T) {
	h := newHarness(t)
	idle := h.mgr.Create()
	watched := h.mgr.Create()
	used := h.mgr.Create()
	h.pub.clients[watched.ID] = 1

	h.clock.Advance(45 * time.Second)
	_, _ = h.mgr.Get(used.ID)
	h.clock.Advance(30 * time.Second)

	assert.Equal(t, 1, h.mgr.Reap())
	_, ok := h.mgr.Get(idle.ID)
	assert.False(t, ok)
	_, ok = h.mgr.Get(watched.ID)
	assert.True(t, ok, "sessions with connected dashboards are kept")
	_, ok = h.mgr.Get(used.ID)
	assert.True(t, ok)
}

func TestReaperRunsOnInterval(t *testing.T) {
	h := newHarness(t)
	h.mgr.Create()
	h.mgr.StartReaper(30 * time.Second)

	h.clock.Advance(30 * time.Second)
	assert.Equal(t, 1, h.mgr.Count())

	h.clock.Advance(60 * time.Second)
	assert.Equal(t, 0, h.mgr.Count())
}

func TestCloseStopsAllSessions(t *testing.T) {
	h := newHarness(t)
	a := h.mgr.Create()
	b := h.mgr.Create()

	h.mgr.Close()
	assert.Equal(t, 0, h.mgr.Count())
	assert.ElementsMatch(t, []string{a.ID, b.ID}, h.pub.closed)
	assert.ErrorIs(t, a.Controller.Search(filters()), poller.ErrClosed)
}
