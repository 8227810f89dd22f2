package types

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the layout of every date key and filter bound
const DateLayout = "2006-01-02"

// Category is the coarse classification of a call outcome
type Category string

const (
	CategoryPositive Category = "positive"
	CategoryNeutral  Category = "neutral"
	CategoryNegative Category = "negative"
)

// ParseCategory maps a configured category name onto a Category.
// Unknown names map to neutral.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryPositive:
		return CategoryPositive
	case CategoryNegative:
		return CategoryNegative
	default:
		return CategoryNeutral
	}
}

// FilterSet is the query window a dashboard session looks at
type FilterSet struct {
	AgentIDs   []string `json:"agentIds"`
	ProjectIDs []string `json:"projectIds"`
	DateFrom   string   `json:"dateFrom,omitempty"` // YYYY-MM-DD, inclusive
	DateTo     string   `json:"dateTo,omitempty"`   // YYYY-MM-DD, inclusive
}

// Valid reports whether the filter set can drive a fetch: at least one
// agent, at least one project and at least one date bound.
func (f FilterSet) Valid() bool {
	return len(nonEmpty(f.AgentIDs)) > 0 &&
		len(nonEmpty(f.ProjectIDs)) > 0 &&
		(f.DateFrom != "" || f.DateTo != "")
}

// Fingerprint returns a canonical representation used to detect whether two
// filter sets describe the same query, independent of id order.
func (f FilterSet) Fingerprint() string {
	agents := f.Agents()
	projects := f.Projects()
	return strings.Join(agents, ",") + "|" + strings.Join(projects, ",") + "|" + f.DateFrom + "|" + f.DateTo
}

// Agents returns the trimmed, deduplicated agent ids in sorted order
func (f FilterSet) Agents() []string { return canonical(f.AgentIDs) }

// Projects returns the trimmed, deduplicated project ids in sorted order
func (f FilterSet) Projects() []string { return canonical(f.ProjectIDs) }

// ActiveOn reports whether day (YYYY-MM-DD) lies within the bounds.
// A missing bound is open.
func (f FilterSet) ActiveOn(day string) bool {
	if f.DateFrom != "" && day < f.DateFrom {
		return false
	}
	if f.DateTo != "" && day > f.DateTo {
		return false
	}
	return true
}

// Clone returns a deep copy so callers can keep filter sets across sessions
func (f FilterSet) Clone() FilterSet {
	return FilterSet{
		AgentIDs:   append([]string(nil), f.AgentIDs...),
		ProjectIDs: append([]string(nil), f.ProjectIDs...),
		DateFrom:   f.DateFrom,
		DateTo:     f.DateTo,
	}
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}

func canonical(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range nonEmpty(ids) {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StatRow is one aggregate statistics row as returned by the upstream
type StatRow struct {
	AgentID     string         `json:"agentId" dynamodbav:"AgentID"`
	AgentName   string         `json:"agentName,omitempty" dynamodbav:"AgentName"`
	ProjectID   string         `json:"projectId" dynamodbav:"ProjectID"`
	ProjectName string         `json:"projectName,omitempty" dynamodbav:"ProjectName"`
	Date        string         `json:"date" dynamodbav:"Date"` // YYYY-MM-DD
	Outcomes    map[string]int `json:"outcomes" dynamodbav:"Outcomes"`
}

// CatalogEntry is a known agent or project
type CatalogEntry struct {
	ID   string `json:"id" dynamodbav:"ID"`
	Name string `json:"name" dynamodbav:"Name"`
}

// Catalog lists the agents and projects known to the upstream
type Catalog struct {
	Agents   []CatalogEntry `json:"agents"`
	Projects []CatalogEntry `json:"projects"`
}

// NotificationEvent is a single "counter went up" alert
type NotificationEvent struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agentId"`
	ProjectID   string    `json:"projectId"`
	SubjectName string    `json:"subjectName"`
	ContextName string    `json:"contextName"`
	OutcomeName string    `json:"outcomeName"`
	Category    Category  `json:"category"`
	NewCount    int       `json:"newCount"`
	Delta       int       `json:"delta"`
	ObservedAt  time.Time `json:"observedAt"`
}
