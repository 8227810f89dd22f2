package types

import "time"

// CounterKey identifies one cumulative outcome counter
type CounterKey struct {
	AgentID   string `json:"agentId"`
	ProjectID string `json:"projectId"`
	Outcome   string `json:"outcome"`
}

// Less orders keys by agent, project, outcome
func (k CounterKey) Less(o CounterKey) bool {
	if k.AgentID != o.AgentID {
		return k.AgentID < o.AgentID
	}
	if k.ProjectID != o.ProjectID {
		return k.ProjectID < o.ProjectID
	}
	return k.Outcome < o.Outcome
}

// Counter is the value tracked for a CounterKey
type Counter struct {
	Count   int    `json:"count"`
	Date    string `json:"date"`    // most recent row date contributing to Count
	Earlier int    `json:"earlier"` // part of Count from rows dated before Date
}

// On returns the part of Count dated day
func (c Counter) On(day string) int {
	if c.Date != day {
		return 0
	}
	return c.Count - c.Earlier
}

// Snapshot is a point-in-time view of all counters for a filter session
type Snapshot struct {
	Counters             map[CounterKey]Counter
	CapturedAt           time.Time
	DateRangeActiveToday bool
}

// NewSnapshot returns an empty snapshot
func NewSnapshot(capturedAt time.Time, activeToday bool) Snapshot {
	return Snapshot{
		Counters:             make(map[CounterKey]Counter),
		CapturedAt:           capturedAt,
		DateRangeActiveToday: activeToday,
	}
}
