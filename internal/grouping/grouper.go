package grouping

import (
	"sort"

	"github.com/dennisdiepolder/monti/livestats/internal/normalize"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
)

// Group clusters records by GroupKey and picks one representative per group.
// The result is deterministic for a fixed input order: groups are sorted by
// representative timestamp descending (unknown timestamps count as 0), ties
// keep first-seen order.
func Group(records []types.CallRecord) []types.CallGroup {
	index := make(map[string]int, len(records))
	groups := make([]types.CallGroup, 0)

	for _, rec := range records {
		i, ok := index[rec.GroupKey]
		if !ok {
			index[rec.GroupKey] = len(groups)
			groups = append(groups, types.CallGroup{
				Key:            rec.GroupKey,
				Members:        []types.CallRecord{rec},
				Representative: rec,
			})
			accumulate(&groups[len(groups)-1], rec)
			continue
		}

		g := &groups[i]
		g.Members = append(g.Members, rec)
		if outranks(rec, g.Representative) {
			g.Representative = rec
		}
		accumulate(g, rec)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Representative.SortTimestamp() > groups[j].Representative.SortTimestamp()
	})
	return groups
}

// NormalizeAndGroup is the detail-view pipeline: normalize every raw record
// in arrival order, then group.
func NormalizeAndGroup(raws []types.RawCallRecord, n *normalize.Normalizer) []types.CallGroup {
	return Group(n.NormalizeAll(raws))
}

// outranks reports whether candidate replaces the current representative.
// Arrival order decides between two records without a valid time.
func outranks(candidate, current types.CallRecord) bool {
	switch {
	case candidate.HasValidTime && !current.HasValidTime:
		return true
	case !candidate.HasValidTime && current.HasValidTime:
		return false
	case candidate.HasValidTime && current.HasValidTime:
		return *candidate.StartTimestamp > *current.StartTimestamp
	default:
		return true
	}
}

func accumulate(g *types.CallGroup, rec types.CallRecord) {
	g.TotalDurationSeconds += rec.DurationSeconds
	if rec.OutcomeCategory == types.CategoryPositive {
		g.HasPositiveOutcome = true
	}
	if rec.StartTimestamp != nil && (g.FirstTimestamp == nil || *rec.StartTimestamp < *g.FirstTimestamp) {
		ts := *rec.StartTimestamp
		g.FirstTimestamp = &ts
	}
}
