package differ

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/normalize"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Labeler resolves display names for agents and projects
type Labeler interface {
	AgentName(id string) string
	ProjectName(id string) string
}

// DiffOptions carries everything Diff needs besides the snapshots
type DiffOptions struct {
	Today      string // caller's "today", YYYY-MM-DD
	Now        time.Time
	Labeler    Labeler
	Classifier normalize.Classifier
	NewID      func() string
}

// Diff compares current against the previous baseline and returns the
// events for every counter that increased, plus the new baseline.
//
// With no previous baseline, or with suppressAll, current is adopted as the
// baseline and no events are produced. Keys seen for the first time are
// adopted silently. Decreases lower the baseline without an event. Events
// are only produced when the snapshot covers today, and only the part of a
// counter dated today is compared, so corrections to earlier days stay
// silent.
func Diff(previous *types.Snapshot, current types.Snapshot, suppressAll bool, opts DiffOptions) ([]types.NotificationEvent, types.Snapshot) {
	next := types.NewSnapshot(current.CapturedAt, current.DateRangeActiveToday)
	if previous != nil && !suppressAll {
		for k, c := range previous.Counters {
			next.Counters[k] = c
		}
	}

	keys := make([]types.CounterKey, 0, len(current.Counters))
	for k := range current.Counters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	if previous == nil || suppressAll {
		for _, k := range keys {
			next.Counters[k] = current.Counters[k]
		}
		return nil, next
	}

	opts = withDefaults(opts)

	var events []types.NotificationEvent
	for _, k := range keys {
		cur := current.Counters[k]
		prev, tracked := previous.Counters[k]
		next.Counters[k] = cur

		if !tracked || !current.DateRangeActiveToday {
			continue
		}
		delta := cur.On(opts.Today) - prev.On(opts.Today)
		if delta <= 0 {
			continue
		}

		events = append(events, types.NotificationEvent{
			ID:          opts.NewID(),
			AgentID:     k.AgentID,
			ProjectID:   k.ProjectID,
			SubjectName: opts.Labeler.AgentName(k.AgentID),
			ContextName: opts.Labeler.ProjectName(k.ProjectID),
			OutcomeName: k.Outcome,
			Category:    opts.Classifier.Classify(k.Outcome),
			NewCount:    cur.Count,
			Delta:       delta,
			ObservedAt:  opts.Now,
		})
	}
	return events, next
}

func withDefaults(opts DiffOptions) DiffOptions {
	if opts.Labeler == nil {
		opts.Labeler = Labels{}
	}
	if opts.Classifier == nil {
		opts.Classifier = normalize.NewKeywordClassifier(nil, nil, nil)
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	return opts
}

// Differ retains the baseline snapshot of one filter session
type Differ struct {
	mu       sync.Mutex
	baseline *types.Snapshot
	logger   zerolog.Logger
}

// New creates a differ with no baseline
func New(logger zerolog.Logger) *Differ {
	return &Differ{
		logger: logger.With().Str("component", "differ").Logger(),
	}
}

// Apply diffs current against the retained baseline and retains the result.
// The first snapshot after New or Reset is always suppressed.
func (d *Differ) Apply(current types.Snapshot, suppressAll bool, opts DiffOptions) []types.NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	primed := d.baseline != nil
	events, next := Diff(d.baseline, current, suppressAll, opts)
	d.baseline = &next

	d.logger.Debug().
		Bool("primed", primed).
		Bool("suppressed", !primed || suppressAll).
		Int("counters", len(next.Counters)).
		Int("events", len(events)).
		Msg("snapshot applied")

	return events
}

// Reset drops the baseline so the next snapshot is adopted silently
func (d *Differ) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = nil
}

// Primed reports whether a baseline is retained
func (d *Differ) Primed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseline != nil
}

// Baseline returns a copy of the retained baseline, or nil
func (d *Differ) Baseline() *types.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.baseline == nil {
		return nil
	}
	cp := types.NewSnapshot(d.baseline.CapturedAt, d.baseline.DateRangeActiveToday)
	for k, c := range d.baseline.Counters {
		cp.Counters[k] = c
	}
	return &cp
}
