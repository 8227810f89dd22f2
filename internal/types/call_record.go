package types

// RawCallRecord is a per-call detail row as delivered by the upstream.
// Every field is optional and the timestamp encodings vary between sources.
type RawCallRecord struct {
	ID              string   `json:"id" dynamodbav:"CallID"`
	GroupID         string   `json:"groupId,omitempty" dynamodbav:"GroupID"`
	ContactID       string   `json:"contactId,omitempty" dynamodbav:"ContactID"`
	CampaignID      string   `json:"campaignId,omitempty" dynamodbav:"CampaignID"`
	AgentID         string   `json:"agentId,omitempty" dynamodbav:"AgentID"`
	StartedAt       string   `json:"startedAt,omitempty" dynamodbav:"StartedAt"` // ISO-like, sometimes malformed
	Date            string   `json:"date,omitempty" dynamodbav:"DateKey"`        // YYYY-MM-DD
	Time            string   `json:"time,omitempty" dynamodbav:"Time"`           // HH:mm
	DurationSeconds *float64 `json:"durationSeconds,omitempty" dynamodbav:"DurationSeconds"`
	Duration        *float64 `json:"duration,omitempty" dynamodbav:"Duration"` // fractional seconds
	Outcome         string   `json:"outcome,omitempty" dynamodbav:"Outcome"`
}

// CallRecord is the canonical shape of a call after normalization
type CallRecord struct {
	ID              string   `json:"id"`
	GroupKey        string   `json:"groupKey"`
	AgentID         string   `json:"agentId,omitempty"`
	ContactID       string   `json:"contactId,omitempty"`
	CampaignID      string   `json:"campaignId,omitempty"`
	StartTimestamp  *int64   `json:"startTimestamp"` // epoch millis, nil when unknown
	DurationSeconds int      `json:"durationSeconds"`
	Outcome         string   `json:"outcome"`
	OutcomeCategory Category `json:"outcomeCategory"`
	HasValidTime    bool     `json:"hasValidTime"`
	DateKey         string   `json:"dateKey"`
}

// SortTimestamp returns the start timestamp, or 0 when unknown
func (r CallRecord) SortTimestamp() int64 {
	if r.StartTimestamp == nil {
		return 0
	}
	return *r.StartTimestamp
}

// CallGroup clusters the records of one logical interaction
type CallGroup struct {
	Key                  string       `json:"key"`
	Members              []CallRecord `json:"members"`
	Representative       CallRecord   `json:"representative"`
	FirstTimestamp       *int64       `json:"firstTimestamp"`
	TotalDurationSeconds int          `json:"totalDurationSeconds"`
	HasPositiveOutcome   bool         `json:"hasPositiveOutcome"`
}
