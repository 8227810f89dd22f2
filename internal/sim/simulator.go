package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/dennisdiepolder/monti/livestats/internal/ticker"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
)

// Config controls the simulated call center
type Config struct {
	Agents       int
	Projects     int
	Seed         int64
	HistoryDays  int // days before today that get pre-filled counters
	CallsPerStep int
	Location     *time.Location
}

// outcome labels with their draw weights
var outcomes = []struct {
	label  string
	weight int
}{
	{"Termin vereinbart", 10},
	{"Verkauf abgeschlossen", 4},
	{"Rückruf vereinbart", 15},
	{"Nicht erreicht", 30},
	{"Kein Interesse", 20},
	{"Sekretariat", 12},
	{"Falsche Nummer", 5},
	{"Besetzt", 4},
}

var firstNames = []string{"Anna", "Ben", "Clara", "David", "Elif", "Finn", "Greta", "Hannes", "Ida", "Jonas", "Katrin", "Lukas"}
var lastNames = []string{"Schmidt", "Weber", "Wagner", "Becker", "Hoffmann", "Koch", "Richter", "Klein"}
var projectNames = []string{"Energie Nord", "Glasfaser Süd", "Versicherung Plus", "Solar Direkt", "Mobilfunk Pro", "Strom Regional"}

type rowKey struct {
	agentID   string
	projectID string
	date      string
}

// Simulator produces growing outcome counters and per-call records the
// way the live-stats upstream delivers them, malformed timestamps included.
type Simulator struct {
	config    Config
	clock     clock.Clock
	scheduler *ticker.Scheduler
	logger    zerolog.Logger

	mu       sync.RWMutex
	rng      *rand.Rand
	agents   []types.CatalogEntry
	projects []types.CatalogEntry
	counters map[rowKey]map[string]int
	records  map[string][]types.RawCallRecord // by date
	callSeq  int
}

// New creates a simulator with generated agents, projects and history
func New(cfg Config, clk clock.Clock, logger zerolog.Logger) *Simulator {
	if cfg.Agents <= 0 {
		cfg.Agents = 20
	}
	if cfg.Projects <= 0 {
		cfg.Projects = 4
	}
	if cfg.CallsPerStep <= 0 {
		cfg.CallsPerStep = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logger.With().Str("component", "simulator").Logger()

	s := &Simulator{
		config:    cfg,
		clock:     clk,
		scheduler: ticker.NewScheduler(clk, logger),
		logger:    logger,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		counters:  make(map[rowKey]map[string]int),
		records:   make(map[string][]types.RawCallRecord),
	}
	s.generateCatalog()
	s.generateHistory()
	return s
}

func (s *Simulator) generateCatalog() {
	s.agents = make([]types.CatalogEntry, s.config.Agents)
	for i := range s.agents {
		s.agents[i] = types.CatalogEntry{
			ID: fmt.Sprintf("AGT-%05d", i+1),
			Name: fmt.Sprintf("%s %s",
				firstNames[s.rng.Intn(len(firstNames))],
				lastNames[s.rng.Intn(len(lastNames))]),
		}
	}

	s.projects = make([]types.CatalogEntry, s.config.Projects)
	for i := range s.projects {
		name := projectNames[i%len(projectNames)]
		if i >= len(projectNames) {
			name = fmt.Sprintf("%s %d", name, i/len(projectNames)+1)
		}
		s.projects[i] = types.CatalogEntry{ID: fmt.Sprintf("PRJ-%03d", i+1), Name: name}
	}
}

// generateHistory fills the counters of past days so historical ranges
// have data. Past days never change afterwards.
func (s *Simulator) generateHistory() {
	today := s.clock.Now().In(s.config.Location)
	for d := s.config.HistoryDays; d >= 1; d-- {
		date := today.AddDate(0, 0, -d).Format(types.DateLayout)
		for i := 0; i < s.config.Agents*5; i++ {
			agent := s.agents[s.rng.Intn(len(s.agents))]
			project := s.projects[s.rng.Intn(len(s.projects))]
			s.bump(rowKey{agentID: agent.ID, projectID: project.ID, date: date}, s.drawOutcome())
		}
	}
}

// Step simulates CallsPerStep finished calls happening now
func (s *Simulator) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().In(s.config.Location)
	for i := 0; i < s.config.CallsPerStep; i++ {
		s.simulateCallLocked(now)
	}
	s.logger.Debug().Int("calls", s.callSeq).Msg("step simulated")
}

func (s *Simulator) simulateCallLocked(now time.Time) {
	agent := s.agents[s.rng.Intn(len(s.agents))]
	project := s.projects[s.rng.Intn(len(s.projects))]
	outcome := s.drawOutcome()
	date := now.Format(types.DateLayout)

	s.bump(rowKey{agentID: agent.ID, projectID: project.ID, date: date}, outcome)

	s.callSeq++
	contact := fmt.Sprintf("C-%04d", s.rng.Intn(200))
	rec := types.RawCallRecord{
		ID:         fmt.Sprintf("CALL-%06d", s.callSeq),
		ContactID:  contact,
		CampaignID: project.ID,
		AgentID:    agent.ID,
		Outcome:    outcome,
	}

	// retries of the same contact share a group
	if s.rng.Intn(3) == 0 {
		rec.GroupID = "GRP-" + contact + "-" + project.ID
	}

	duration := float64(s.rng.Intn(600)) + s.rng.Float64()
	if s.rng.Intn(2) == 0 {
		rec.DurationSeconds = &duration
	} else {
		rec.Duration = &duration
	}

	// upstream timestamp encodings vary
	switch s.rng.Intn(10) {
	case 0:
		rec.StartedAt = "invalid"
		rec.Date = date
	case 1, 2:
		rec.Date = date
		rec.Time = now.Format("15:04")
	case 3:
		rec.StartedAt = now.Format("2006-01-02 15:04:05")
	default:
		rec.StartedAt = now.Format(time.RFC3339)
	}

	s.records[date] = append(s.records[date], rec)
}

func (s *Simulator) bump(key rowKey, outcome string) {
	counts, ok := s.counters[key]
	if !ok {
		counts = make(map[string]int)
		s.counters[key] = counts
	}
	counts[outcome]++
}

func (s *Simulator) drawOutcome() string {
	total := 0
	for _, o := range outcomes {
		total += o.weight
	}
	n := s.rng.Intn(total)
	for _, o := range outcomes {
		if n < o.weight {
			return o.label
		}
		n -= o.weight
	}
	return outcomes[len(outcomes)-1].label
}

// Stats returns the aggregate rows matching filters
func (s *Simulator) Stats(filters types.FilterSet) []types.StatRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := idSet(filters.AgentIDs)
	projects := idSet(filters.ProjectIDs)

	rows := make([]types.StatRow, 0)
	for key, counts := range s.counters {
		if !agents[key.agentID] || !projects[key.projectID] || !filters.ActiveOn(key.date) {
			continue
		}
		outcomes := make(map[string]int, len(counts))
		for label, n := range counts {
			outcomes[label] = n
		}
		rows = append(rows, types.StatRow{
			AgentID:     key.agentID,
			AgentName:   s.nameOf(s.agents, key.agentID),
			ProjectID:   key.projectID,
			ProjectName: s.nameOf(s.projects, key.projectID),
			Date:        key.date,
			Outcomes:    outcomes,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		if rows[i].AgentID != rows[j].AgentID {
			return rows[i].AgentID < rows[j].AgentID
		}
		return rows[i].ProjectID < rows[j].ProjectID
	})
	return rows
}

// CallRecords returns the per-call records of today matching filters.
// History days only have aggregates.
func (s *Simulator) CallRecords(filters types.FilterSet) []types.RawCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := idSet(filters.AgentIDs)
	projects := idSet(filters.ProjectIDs)
	today := s.clock.Now().In(s.config.Location).Format(types.DateLayout)
	if !filters.ActiveOn(today) {
		return []types.RawCallRecord{}
	}

	out := make([]types.RawCallRecord, 0)
	for _, rec := range s.records[today] {
		if agents[rec.AgentID] && projects[rec.CampaignID] {
			out = append(out, rec)
		}
	}
	return out
}

// Catalog returns every simulated agent and project
func (s *Simulator) Catalog() types.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.Catalog{
		Agents:   append([]types.CatalogEntry(nil), s.agents...),
		Projects: append([]types.CatalogEntry(nil), s.projects...),
	}
}

// Status summarizes the simulation
func (s *Simulator) Status() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"running":  s.scheduler.Running(),
		"agents":   len(s.agents),
		"projects": len(s.projects),
		"calls":    s.callSeq,
		"rows":     len(s.counters),
	}
}

// Start steps the simulation every tick
func (s *Simulator) Start(tick time.Duration) {
	s.logger.Info().Dur("tick", tick).Msg("simulation started")
	s.scheduler.Start(tick, s.Step)
}

// Stop halts the simulation
func (s *Simulator) Stop() {
	s.scheduler.Stop()
	s.logger.Info().Msg("simulation stopped")
}

func (s *Simulator) nameOf(entries []types.CatalogEntry, id string) string {
	for _, e := range entries {
		if e.ID == id {
			return e.Name
		}
	}
	return ""
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
