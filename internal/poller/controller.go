package poller

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/dennisdiepolder/monti/livestats/internal/differ"
	"github.com/dennisdiepolder/monti/livestats/internal/metrics"
	"github.com/dennisdiepolder/monti/livestats/internal/normalize"
	"github.com/dennisdiepolder/monti/livestats/internal/source"
	"github.com/dennisdiepolder/monti/livestats/internal/telemetry"
	"github.com/dennisdiepolder/monti/livestats/internal/ticker"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultStatsTimeout = 3 * time.Minute
)

// Options configures a Controller
type Options struct {
	SessionID    string
	Source       source.Source
	Clock        clock.Clock
	PollInterval time.Duration
	StatsTimeout time.Duration
	Location     *time.Location
	Classifier   normalize.Classifier
	Labeler      differ.Labeler
	Notifier     Notifier
	Observer     Observer
}

// Controller decides when a filter session fetches aggregate statistics and
// feeds every result through the differ into the notifier.
//
// Explicit actions (Search, Refresh) start a new search generation and
// filter edits (MarkDirty) bump the epoch. A fetch result is applied only
// while the token it was issued with is still current.
type Controller struct {
	opts      Options
	scheduler *ticker.Scheduler
	differ    *differ.Differ
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	revision    uint64
	generation  uint64
	epoch       uint64
	dirty       bool
	editable    types.FilterSet
	applied     *types.FilterSet
	lastErr     error
	rows        []types.StatRow
	lastUpdated *time.Time
	fetchSeq    uint64
	inFlight    uint64 // seq of the running fetch, 0 when none
	cancelFetch context.CancelFunc
	closed      bool
}

// New creates an idle controller
func New(opts Options, logger zerolog.Logger) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = DefaultStatsTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Classifier == nil {
		opts.Classifier = normalize.NewKeywordClassifier(nil, nil, nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFunc(func(StateView) {})
	}

	logger = logger.With().Str("component", "poller").Str("session", opts.SessionID).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		opts:      opts,
		scheduler: ticker.NewScheduler(opts.Clock, logger),
		differ:    differ.New(logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
	}
}

// MarkDirty records a filter edit. Fetching stops until the next explicit
// Search or Refresh; the last rows stay visible, the alert queue is cleared
// and the baseline dropped. Results of fetches still in flight are discarded.
func (c *Controller) MarkDirty(filters types.FilterSet) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	c.editable = filters.Clone()
	c.dirty = true
	c.epoch++
	c.scheduler.Stop()
	c.cancelInFlightLocked()
	c.differ.Reset()
	c.opts.Notifier.Clear()

	switch {
	case c.generation > 0:
		c.state = StateSuspended
	case filters.Valid():
		c.state = StateAwaitingManualTrigger
	default:
		c.state = StateIdle
	}

	c.logger.Debug().Str("state", string(c.state)).Uint64("epoch", c.epoch).Msg("filters marked dirty")
	view := c.changedLocked()
	c.mu.Unlock()

	c.opts.Observer.StateChanged(view)
	return nil
}

// Search applies filters and issues exactly one fetch. The first result of
// the new search is used as the baseline and never notifies.
func (c *Controller) Search(filters types.FilterSet) error {
	if !filters.Valid() {
		return ErrInvalidFilters
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	applied := filters.Clone()
	c.generation++
	c.dirty = false
	c.editable = filters.Clone()
	c.applied = &applied
	c.lastErr = nil
	c.differ.Reset()
	c.opts.Notifier.Clear()
	c.scheduler.Stop()
	c.state = StateFetching
	c.startFetchLocked("search")

	c.logger.Info().
		Uint64("generation", c.generation).
		Str("filters", applied.Fingerprint()).
		Msg("search started")
	view := c.changedLocked()
	c.mu.Unlock()

	c.opts.Observer.StateChanged(view)
	return nil
}

// Refresh forces one fetch. It uses the editable filters when they are
// complete, otherwise it reverts them to the last applied set. The baseline
// survives when the applied filters did not change and nothing was edited.
func (c *Controller) Refresh() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	var next types.FilterSet
	switch {
	case c.editable.Valid():
		next = c.editable.Clone()
	case c.applied != nil:
		next = c.applied.Clone()
		c.editable = c.applied.Clone()
	default:
		c.mu.Unlock()
		return ErrNoFilters
	}

	keepBaseline := !c.dirty && c.applied != nil && c.applied.Fingerprint() == next.Fingerprint()

	c.generation++
	c.dirty = false
	c.applied = &next
	c.lastErr = nil
	if !keepBaseline {
		c.differ.Reset()
		c.opts.Notifier.Clear()
	}
	c.scheduler.Stop()
	c.state = StateFetching
	c.startFetchLocked("refresh")

	c.logger.Info().
		Uint64("generation", c.generation).
		Bool("keep_baseline", keepBaseline).
		Msg("refresh started")
	view := c.changedLocked()
	c.mu.Unlock()

	c.opts.Observer.StateChanged(view)
	return nil
}

// View returns the current state
func (c *Controller) View() StateView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Close stops auto-polling and cancels in-flight fetches
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.scheduler.Stop()
	c.mu.Unlock()

	c.cancel()
	c.logger.Debug().Msg("controller closed")
}

// Wait blocks until all fetches issued so far have completed
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.dirty || c.state != StateAutoPolling {
		return
	}
	if c.inFlight != 0 {
		c.logger.Debug().Msg("tick skipped, fetch in flight")
		return
	}
	c.startFetchLocked("tick")
}

func (c *Controller) tokenLocked() fetchToken {
	tok := fetchToken{generation: c.generation, epoch: c.epoch}
	if c.applied != nil {
		tok.fingerprint = c.applied.Fingerprint()
	}
	return tok
}

func (c *Controller) cancelInFlightLocked() {
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
}

// startFetchLocked supersedes any running fetch and starts a new one for
// the applied filters.
func (c *Controller) startFetchLocked(reason string) {
	c.cancelInFlightLocked()

	c.fetchSeq++
	seq := c.fetchSeq
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelFetch = cancel
	c.inFlight = seq

	tok := c.tokenLocked()
	filters := c.applied.Clone()

	c.logger.Debug().Str("reason", reason).Uint64("seq", seq).Msg("fetch issued")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		start := time.Now()
		rows, err := c.fetch(ctx, filters)
		c.complete(seq, tok, rows, err, time.Since(start))
	}()
}

// fetch retrieves stats, retrying exactly once after a timeout
func (c *Controller) fetch(ctx context.Context, filters types.FilterSet) ([]types.StatRow, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "poller.fetch")
	span.SetAttributes(
		attribute.String("session.id", c.opts.SessionID),
		attribute.String("filters", filters.Fingerprint()),
	)
	defer span.End()

	var rows []types.StatRow
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		rows, err = c.fetchOnce(ctx, filters)
		if err == nil || !source.IsTimeout(err) || ctx.Err() != nil {
			break
		}
		if attempt == 0 {
			metrics.Get().RecordFetchRetry()
			c.logger.Warn().Err(err).Msg("stats fetch timed out, retrying")
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

func (c *Controller) fetchOnce(ctx context.Context, filters types.FilterSet) ([]types.StatRow, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.StatsTimeout)
	defer cancel()

	rows, err := c.opts.Source.FetchStats(ctx, filters)
	return rows, source.Wrap("stats", err)
}

func (c *Controller) complete(seq uint64, tok fetchToken, rows []types.StatRow, err error, elapsed time.Duration) {
	c.mu.Lock()

	if c.inFlight == seq {
		c.inFlight = 0
		c.cancelFetch = nil
	}
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.dirty || tok != c.tokenLocked() {
		metrics.Get().RecordStaleDiscard()
		metrics.Get().RecordFetch("stats", metrics.FetchStale, elapsed)
		c.logger.Debug().
			Uint64("seq", seq).
			Uint64("fetch_generation", tok.generation).
			Uint64("generation", c.generation).
			Msg("stale response discarded")
		c.mu.Unlock()
		return
	}

	if err != nil {
		result := metrics.FetchError
		if source.IsTimeout(err) {
			result = metrics.FetchTimeout
		}
		metrics.Get().RecordFetch("stats", result, elapsed)

		c.lastErr = err
		c.state = StateSuspended
		c.scheduler.Stop()
		c.logger.Error().Err(err).Uint64("generation", c.generation).Msg("stats fetch failed")

		view := c.changedLocked()
		c.mu.Unlock()
		c.opts.Observer.StateChanged(view)
		return
	}

	metrics.Get().RecordFetch("stats", metrics.FetchSuccess, elapsed)

	now := c.opts.Clock.Now()
	today := now.In(c.opts.Location).Format(types.DateLayout)
	snap := differ.BuildSnapshot(rows, *c.applied, today, now)

	labels := differ.LabelsFromRows(rows)
	labels.Fallback = c.opts.Labeler
	events := c.differ.Apply(snap, false, differ.DiffOptions{
		Today:      today,
		Now:        now,
		Labeler:    labels,
		Classifier: c.opts.Classifier,
	})

	c.rows = rows
	c.lastUpdated = &now
	c.lastErr = nil
	c.state = StateAutoPolling
	if !c.scheduler.Running() {
		c.scheduler.Start(c.opts.PollInterval, c.tick)
	}

	// the notifier never calls back into the controller
	c.opts.Notifier.Enqueue(events...)

	c.logger.Debug().
		Int("rows", len(rows)).
		Int("events", len(events)).
		Dur("elapsed", elapsed).
		Msg("stats applied")

	view := c.changedLocked()
	c.mu.Unlock()
	c.opts.Observer.StateChanged(view)
}

// changedLocked records a transition and returns the view to publish
func (c *Controller) changedLocked() StateView {
	c.revision++
	return c.viewLocked()
}

func (c *Controller) viewLocked() StateView {
	view := StateView{
		State:      c.state,
		Revision:   c.revision,
		Generation: c.generation,
		Dirty:      c.dirty,
		Fetching:   c.inFlight != 0,
		Filters:    c.editable.Clone(),
		Rows:       append([]types.StatRow(nil), c.rows...),
	}
	if c.applied != nil {
		applied := c.applied.Clone()
		view.Applied = &applied
	}
	if c.lastErr != nil {
		view.LastError = c.lastErr.Error()
	}
	if c.lastUpdated != nil {
		t := *c.lastUpdated
		view.LastUpdated = &t
	}
	return view
}

type discardNotifier struct{}

func (discardNotifier) Enqueue(...types.NotificationEvent) {}
func (discardNotifier) Clear()                              {}
