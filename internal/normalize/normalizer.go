package normalize

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dennisdiepolder/monti/livestats/internal/metrics"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
)

// hyphenated time-of-day, e.g. "T11-59-41-424Z"
var hyphenTime = regexp.MustCompile(`T(\d{2})-(\d{2})-(\d{2})(?:-(\d{1,9}))?`)

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// layouts tried for zone-less ISO-like strings before falling back to
// general date parsing
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalizer turns raw upstream call records into canonical records
type Normalizer struct {
	classifier Classifier
	location   *time.Location
	logger     zerolog.Logger
}

// NewNormalizer creates a normalizer. Zone-less timestamps are interpreted
// in loc; a nil classifier uses the default keyword lists.
func NewNormalizer(classifier Classifier, loc *time.Location, logger zerolog.Logger) *Normalizer {
	if classifier == nil {
		classifier = NewKeywordClassifier(nil, nil, nil)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		classifier: classifier,
		location:   loc,
		logger:     logger.With().Str("component", "normalizer").Logger(),
	}
}

// Classifier returns the outcome classifier in use
func (n *Normalizer) Classifier() Classifier {
	return n.classifier
}

// Normalize converts a raw record. It never fails: unparseable timestamps
// become nil, missing durations become 0 and unknown outcomes neutral.
func (n *Normalizer) Normalize(raw types.RawCallRecord) types.CallRecord {
	ts, ok := n.resolveTimestamp(raw)

	rec := types.CallRecord{
		ID:              raw.ID,
		AgentID:         raw.AgentID,
		ContactID:       raw.ContactID,
		CampaignID:      raw.CampaignID,
		DurationSeconds: resolveDuration(raw.DurationSeconds, raw.Duration),
		Outcome:         raw.Outcome,
		OutcomeCategory: n.classifier.Classify(raw.Outcome),
	}

	if ok {
		millis := ts.UnixMilli()
		rec.StartTimestamp = &millis
		rec.HasValidTime = true
		rec.DateKey = ts.In(n.location).Format(types.DateLayout)
	} else {
		rec.DateKey = rawDateKey(raw.Date)
		if raw.StartedAt != "" || raw.Date != "" {
			metrics.Get().RecordParseFallback()
			n.logger.Debug().
				Str("record_id", raw.ID).
				Str("started_at", raw.StartedAt).
				Str("date", raw.Date).
				Str("time", raw.Time).
				Msg("no parseable timestamp, keeping record without time")
		}
	}

	if raw.GroupID != "" {
		rec.GroupKey = raw.GroupID
	} else {
		rec.GroupKey = raw.ContactID + "|" + raw.CampaignID + "|" + rec.DateKey
	}

	return rec
}

// NormalizeAll normalizes a batch preserving order
func (n *Normalizer) NormalizeAll(raws []types.RawCallRecord) []types.CallRecord {
	out := make([]types.CallRecord, len(raws))
	for i, raw := range raws {
		out[i] = n.Normalize(raw)
	}
	return out
}

// resolveTimestamp tries the primary timestamp, then date+time, then the
// date alone.
func (n *Normalizer) resolveTimestamp(raw types.RawCallRecord) (time.Time, bool) {
	if s := strings.TrimSpace(raw.StartedAt); s != "" {
		if ts, ok := n.parseTimestamp(s); ok {
			return ts, true
		}
	}

	date := rawDateKey(raw.Date)
	if date == "" {
		return time.Time{}, false
	}

	if clock := strings.TrimSpace(raw.Time); clock != "" {
		for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
			if ts, err := time.ParseInLocation(layout, date+" "+clock, n.location); err == nil {
				return ts, true
			}
		}
	}

	if ts, err := time.ParseInLocation(types.DateLayout, date, n.location); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

// parseTimestamp parses an ISO-like string, repairing hyphenated
// time-of-day separators first
func (n *Normalizer) parseTimestamp(s string) (time.Time, bool) {
	s = RepairTimeSeparators(s)

	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, n.location); err == nil {
			return ts, true
		}
	}
	if ts, err := dateparse.ParseIn(s, n.location); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

// RepairTimeSeparators rewrites "T11-59-41-424Z" to "T11:59:41.424Z".
// Strings without the malformation are returned unchanged.
func RepairTimeSeparators(s string) string {
	return hyphenTime.ReplaceAllStringFunc(s, func(m string) string {
		parts := hyphenTime.FindStringSubmatch(m)
		out := "T" + parts[1] + ":" + parts[2] + ":" + parts[3]
		if parts[4] != "" {
			out += "." + parts[4]
		}
		return out
	})
}

// resolveDuration takes the first non-nil value, rounds it and floors at 0
func resolveDuration(values ...*float64) int {
	for _, v := range values {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return 0
		}
		d := int(math.Round(*v))
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

func rawDateKey(date string) string {
	date = strings.TrimSpace(date)
	if !dateKeyPattern.MatchString(date) {
		return ""
	}
	return date[:10]
}
