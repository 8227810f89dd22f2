package differ

import (
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
)

// BuildSnapshot folds upstream rows into a snapshot. Rows for the same
// (agent, project, outcome) on different dates are summed; the counter keeps
// the most recent contributing date and how much of the sum predates it.
func BuildSnapshot(rows []types.StatRow, filters types.FilterSet, today string, capturedAt time.Time) types.Snapshot {
	snap := types.NewSnapshot(capturedAt, filters.ActiveOn(today))
	for _, row := range rows {
		for outcome, count := range row.Outcomes {
			k := types.CounterKey{AgentID: row.AgentID, ProjectID: row.ProjectID, Outcome: outcome}
			c := snap.Counters[k]
			switch {
			case row.Date > c.Date:
				c.Earlier = c.Count
				c.Date = row.Date
			case row.Date < c.Date:
				c.Earlier += count
			}
			c.Count += count
			snap.Counters[k] = c
		}
	}
	return snap
}

// Labels is a map-backed Labeler with an optional fallback
type Labels struct {
	Agents   map[string]string
	Projects map[string]string
	Fallback Labeler
}

// LabelsFromRows collects the names carried on upstream rows
func LabelsFromRows(rows []types.StatRow) Labels {
	l := Labels{Agents: make(map[string]string), Projects: make(map[string]string)}
	for _, row := range rows {
		if row.AgentName != "" {
			l.Agents[row.AgentID] = row.AgentName
		}
		if row.ProjectName != "" {
			l.Projects[row.ProjectID] = row.ProjectName
		}
	}
	return l
}

// AgentName implements Labeler. Unknown ids are returned as-is.
func (l Labels) AgentName(id string) string {
	if name, ok := l.Agents[id]; ok {
		return name
	}
	if l.Fallback != nil {
		return l.Fallback.AgentName(id)
	}
	return id
}

// ProjectName implements Labeler. Unknown ids are returned as-is.
func (l Labels) ProjectName(id string) string {
	if name, ok := l.Projects[id]; ok {
		return name
	}
	if l.Fallback != nil {
		return l.Fallback.ProjectName(id)
	}
	return id
}
