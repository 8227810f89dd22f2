package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/dennisdiepolder/monti/livestats/internal/source"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const today = "2026-03-02"

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, filters types.FilterSet) ([]types.StatRow, error)
}

func (f *fakeSource) FetchStats(ctx context.Context, filters types.FilterSet) ([]types.StatRow, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call, filters)
}

func (f *fakeSource) FetchCallRecords(context.Context, types.FilterSet) ([]types.RawCallRecord, error) {
	return nil, nil
}

func (f *fakeSource) FetchCatalog(context.Context) (types.Catalog, error) {
	return types.Catalog{}, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// counterSource serves one "Termin" counter whose value the test controls
type counterSource struct {
	fakeSource
	count int
}

func newCounterSource(start int) *counterSource {
	s := &counterSource{count: start}
	s.fn = func(_ context.Context, _ int, f types.FilterSet) ([]types.StatRow, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return []types.StatRow{statRow(f.AgentIDs[0], s.count)}, nil
	}
	return s
}

func (s *counterSource) set(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = n
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.NotificationEvent
	clears int
}

func (n *recordingNotifier) Enqueue(events ...types.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *recordingNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clears++
}

func (n *recordingNotifier) received() []types.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.NotificationEvent(nil), n.events...)
}

type recordingObserver struct {
	mu    sync.Mutex
	views []StateView
}

func (o *recordingObserver) StateChanged(v StateView) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.views = append(o.views, v)
}

func (o *recordingObserver) all() []StateView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StateView(nil), o.views...)
}

func statRow(agent string, n int) types.StatRow {
	return types.StatRow{
		AgentID:   agent,
		AgentName: "Agent " + agent,
		ProjectID: "p1",
		Date:      today,
		Outcomes:  map[string]int{"Termin vereinbart": n},
	}
}

func filtersFor(agent string) types.FilterSet {
	return types.FilterSet{AgentIDs: []string{agent}, ProjectIDs: []string{"p1"}, DateFrom: today, DateTo: today}
}

type harness struct {
	ctrl     *Controller
	clock    *clock.Manual
	notifier *recordingNotifier
	observer *recordingObserver
}

func newHarness(t *testing.T, src source.Source) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
	}
	h.ctrl = New(Options{
		SessionID:    "test",
		Source:       src,
		Clock:        h.clock,
		PollInterval: 10 * time.Second,
		StatsTimeout: time.Second,
		Location:     time.UTC,
		Notifier:     h.notifier,
		Observer:     h.observer,
	}, zerolog.Nop())
	t.Cleanup(func() {
		h.ctrl.Close()
		h.ctrl.Wait()
	})
	return h
}

func TestSearchRequiresValidFilters(t *testing.T) {
	h := newHarness(t, newCounterSource(1))

	err := h.ctrl.Search(types.FilterSet{AgentIDs: []string{"a1"}})
	assert.ErrorIs(t, err, ErrInvalidFilters)
	assert.Equal(t, StateIdle, h.ctrl.View().State)
}

func TestMarkDirtyBeforeFirstSearch(t *testing.T) {
	h := newHarness(t, newCounterSource(1))

	require.NoError(t, h.ctrl.MarkDirty(types.FilterSet{AgentIDs: []string{"a1"}}))
	assert.Equal(t, StateIdle, h.ctrl.View().State)

	require.NoError(t, h.ctrl.MarkDirty(filtersFor("a1")))
	view := h.ctrl.View()
	assert.Equal(t, StateAwaitingManualTrigger, view.State)
	assert.True(t, view.Dirty)
	assert.Nil(t, view.Applied)
}

func TestSearchThenAutoPoll(t *testing.T) {
	src := newCounterSource(1)
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	assert.Equal(t, StateFetching, h.ctrl.View().State)
	h.ctrl.Wait()

	view := h.ctrl.View()
	assert.Equal(t, StateAutoPolling, view.State)
	assert.Equal(t, uint64(1), view.Generation)
	assert.Len(t, view.Rows, 1)
	require.NotNil(t, view.LastUpdated)
	assert.Empty(t, h.notifier.received(), "first result never notifies")

	src.set(4)
	h.clock.Advance(10 * time.Second)
	h.ctrl.Wait()

	assert.Equal(t, 2, src.callCount())
	events := h.notifier.received()
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Delta)
	assert.Equal(t, 4, events[0].NewCount)
	assert.Equal(t, "Agent a1", events[0].SubjectName)
	assert.Equal(t, types.CategoryPositive, events[0].Category)

	h.clock.Advance(10 * time.Second)
	h.ctrl.Wait()
	assert.Equal(t, 3, src.callCount())
	assert.Len(t, h.notifier.received(), 1, "unchanged counts do not notify")
}

func TestDirtySuspendsPolling(t *testing.T) {
	src := newCounterSource(1)
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()
	clearsBefore := h.notifier.clears

	require.NoError(t, h.ctrl.MarkDirty(filtersFor("a2")))
	view := h.ctrl.View()
	assert.Equal(t, StateSuspended, view.State)
	assert.True(t, view.Dirty)
	assert.Len(t, view.Rows, 1, "stale rows stay visible")
	assert.Equal(t, "a1", view.Applied.AgentIDs[0])
	assert.Equal(t, clearsBefore+1, h.notifier.clears)

	h.clock.Advance(time.Minute)
	h.ctrl.Wait()
	assert.Equal(t, 1, src.callCount(), "no fetch while dirty")

	// counts rose meanwhile, but the new search starts a fresh baseline
	src.set(9)
	require.NoError(t, h.ctrl.Refresh())
	h.ctrl.Wait()

	view = h.ctrl.View()
	assert.Equal(t, StateAutoPolling, view.State)
	assert.False(t, view.Dirty)
	assert.Equal(t, "a2", view.Applied.AgentIDs[0])
	assert.Equal(t, uint64(2), view.Generation)
	assert.Empty(t, h.notifier.received())
}

func TestStaleResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{}
	src.fn = func(_ context.Context, _ int, f types.FilterSet) ([]types.StatRow, error) {
		if f.AgentIDs[0] == "a1" {
			<-release
		}
		return []types.StatRow{statRow(f.AgentIDs[0], 1)}, nil
	}
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	require.NoError(t, h.ctrl.MarkDirty(filtersFor("a2")))
	require.NoError(t, h.ctrl.Search(filtersFor("a2")))

	close(release)
	h.ctrl.Wait()

	view := h.ctrl.View()
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "a2", view.Rows[0].AgentID)
	assert.Equal(t, StateAutoPolling, view.State)

	for _, v := range h.observer.all() {
		for _, row := range v.Rows {
			assert.NotEqual(t, "a1", row.AgentID, "stale rows must never be published")
		}
	}
}

func TestTimeoutRetriedOnce(t *testing.T) {
	src := &fakeSource{}
	src.fn = func(_ context.Context, call int, f types.FilterSet) ([]types.StatRow, error) {
		if call == 1 {
			return nil, context.DeadlineExceeded
		}
		return []types.StatRow{statRow("a1", 1)}, nil
	}
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()

	assert.Equal(t, 2, src.callCount())
	view := h.ctrl.View()
	assert.Equal(t, StateAutoPolling, view.State)
	assert.Empty(t, view.LastError)
}

func TestTimeoutAfterRetrySuspends(t *testing.T) {
	src := &fakeSource{}
	src.fn = func(context.Context, int, types.FilterSet) ([]types.StatRow, error) {
		return nil, context.DeadlineExceeded
	}
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()

	assert.Equal(t, 2, src.callCount())
	view := h.ctrl.View()
	assert.Equal(t, StateSuspended, view.State)
	assert.False(t, view.Dirty)
	assert.Contains(t, view.LastError, "deadline exceeded")
}

func TestErrorNotRetriedAndKeepsRows(t *testing.T) {
	fail := false
	var mu sync.Mutex
	src := &fakeSource{}
	src.fn = func(_ context.Context, _ int, f types.FilterSet) ([]types.StatRow, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("upstream returned 500")
		}
		return []types.StatRow{statRow("a1", 2)}, nil
	}
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()

	mu.Lock()
	fail = true
	mu.Unlock()
	h.clock.Advance(10 * time.Second)
	h.ctrl.Wait()

	assert.Equal(t, 2, src.callCount(), "errors are not retried")
	view := h.ctrl.View()
	assert.Equal(t, StateSuspended, view.State)
	assert.Contains(t, view.LastError, "upstream returned 500")
	assert.Len(t, view.Rows, 1, "last good rows are kept")

	h.clock.Advance(time.Minute)
	h.ctrl.Wait()
	assert.Equal(t, 2, src.callCount(), "polling stops after a failure")
}

func TestRefreshKeepsBaseline(t *testing.T) {
	src := newCounterSource(1)
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()

	src.set(3)
	require.NoError(t, h.ctrl.Refresh())
	h.ctrl.Wait()

	events := h.notifier.received()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Delta)
	assert.Equal(t, uint64(2), h.ctrl.View().Generation)
}

func TestRefreshRevertsIncompleteEdits(t *testing.T) {
	h := newHarness(t, newCounterSource(1))

	assert.ErrorIs(t, h.ctrl.Refresh(), ErrNoFilters)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()
	require.NoError(t, h.ctrl.MarkDirty(types.FilterSet{ProjectIDs: []string{"p1"}}))

	require.NoError(t, h.ctrl.Refresh())
	h.ctrl.Wait()

	view := h.ctrl.View()
	assert.Equal(t, StateAutoPolling, view.State)
	assert.Equal(t, []string{"a1"}, view.Filters.AgentIDs, "editable filters reverted to applied")
}

func TestTickSkippedWhileFetchInFlight(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{}
	src.fn = func(_ context.Context, call int, _ types.FilterSet) ([]types.StatRow, error) {
		if call == 2 {
			<-release
		}
		return []types.StatRow{statRow("a1", 1)}, nil
	}
	h := newHarness(t, src)

	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()

	h.clock.Advance(10 * time.Second)
	assert.True(t, h.ctrl.View().Fetching)
	h.clock.Advance(10 * time.Second)

	close(release)
	h.ctrl.Wait()
	assert.Equal(t, 2, src.callCount())
}

func TestClosedController(t *testing.T) {
	h := newHarness(t, newCounterSource(1))
	h.ctrl.Close()

	assert.ErrorIs(t, h.ctrl.Search(filtersFor("a1")), ErrClosed)
	assert.ErrorIs(t, h.ctrl.MarkDirty(filtersFor("a1")), ErrClosed)
	assert.ErrorIs(t, h.ctrl.Refresh(), ErrClosed)
}

func TestObserverRevisionsIncrease(t *testing.T) {
	h := newHarness(t, newCounterSource(1))

	require.NoError(t, h.ctrl.MarkDirty(filtersFor("a1")))
	require.NoError(t, h.ctrl.Search(filtersFor("a1")))
	h.ctrl.Wait()

	views := h.observer.all()
	require.Len(t, views, 3)
	seen := map[uint64]bool{}
	for _, v := range views {
		assert.False(t, seen[v.Revision], "revision %d reused", v.Revision)
		seen[v.Revision] = true
	}
}
