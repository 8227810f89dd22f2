package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dennisdiepolder/monti/livestats/internal/normalize"
	"github.com/dennisdiepolder/monti/livestats/internal/storage"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Source modes
const (
	SourceModeHTTP   = "http"
	SourceModeDynamo = "dynamo"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	SourceMode  string
	UpstreamURL string
	UpstreamRPS float64
	Dynamo      storage.DynamoConfig

	PollInterval       time.Duration
	StatsTimeout       time.Duration
	DetailTimeout      time.Duration
	NotifyDuration     time.Duration
	MilestoneDuration  time.Duration
	Timezone           string
	Location           *time.Location
	CatalogTTL         time.Duration
	SessionIdleTimeout time.Duration
	Tracing            bool

	Classifier ClassifierConfig
}

// ClassifierConfig is the YAML-only "classifier" section
type ClassifierConfig struct {
	Positive []string          `koanf:"positive"`
	Negative []string          `koanf:"negative"`
	Neutral  []string          `koanf:"neutral"`
	Outcomes map[string]string `koanf:"outcomes"` // exact label -> category
}

// Build returns the configured outcome classifier. An outcome table, when
// present, takes precedence over the keyword heuristic.
func (c ClassifierConfig) Build() normalize.Classifier {
	keywords := normalize.NewKeywordClassifier(c.Positive, c.Negative, c.Neutral)
	if len(c.Outcomes) == 0 {
		return keywords
	}
	table := make(map[string]types.Category, len(c.Outcomes))
	for label, cat := range c.Outcomes {
		table[label] = types.ParseCategory(cat)
	}
	return normalize.NewTableClassifier(table, keywords)
}

// Load loads configuration from an optional YAML file overlaid by
// environment variables. Environment keys are matched lowercased, so
// POLL_INTERVAL in the environment overrides poll_interval in the file.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	k := koanf.New(".")

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	l := loader{k: k}
	config := &Config{
		Port:           l.getString("port", "8080"),
		AllowedOrigins: splitList(l.getString("allowed_origins", "http://localhost:5173")),
		LogLevel:       l.getString("log_level", "info"),

		SourceMode:  strings.ToLower(l.getString("source_mode", SourceModeHTTP)),
		UpstreamURL: l.getString("upstream_url", "http://localhost:8081"),
		UpstreamRPS: l.getFloat("upstream_rps", 5),
		Dynamo: storage.DynamoConfig{
			Mode:             storage.ParseDynamoMode(l.getString("dynamo_mode", "none")),
			Endpoint:         l.getString("dynamo_endpoint", "http://localhost:8000"),
			Region:           l.getString("dynamo_region", "eu-central-1"),
			StatsTable:       l.getString("dynamo_stats_table", "monti-agent-daily-stats"),
			CallRecordsTable: l.getString("dynamo_call_records_table", "monti-call-records"),
			CatalogTable:     l.getString("dynamo_catalog_table", "monti-catalog"),
			MaxRangeDays:     l.getInt("dynamo_max_range_days", 366),
		},

		WSReadTimeout:      l.getDuration("ws_read_timeout", 60*time.Second),
		WSWriteTimeout:     l.getDuration("ws_write_timeout", 10*time.Second),
		PollInterval:       l.getDuration("poll_interval", 10*time.Second),
		StatsTimeout:       l.getDuration("stats_timeout", 3*time.Minute),
		DetailTimeout:      l.getDuration("detail_timeout", 5*time.Second),
		NotifyDuration:     l.getDuration("notify_duration", 5*time.Second),
		MilestoneDuration:  l.getDuration("milestone_duration", 7*time.Second),
		CatalogTTL:         l.getDuration("catalog_ttl", 5*time.Minute),
		SessionIdleTimeout: l.getDuration("session_idle_timeout", 30*time.Minute),
		Timezone:           l.getString("timezone", "Europe/Berlin"),
		Tracing:            l.getBool("tracing", false),
	}
	if l.err != nil {
		return nil, l.err
	}

	if err := k.Unmarshal("classifier", &config.Classifier); err != nil {
		return nil, fmt.Errorf("invalid classifier section: %w", err)
	}

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	config.Location = loc

	switch config.SourceMode {
	case SourceModeHTTP:
	case SourceModeDynamo:
		if err := config.Dynamo.Validate(); err != nil {
			return nil, fmt.Errorf("invalid DynamoDB config: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid SOURCE_MODE %q", config.SourceMode)
	}

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	return config, nil
}

// loader reads typed values and keeps the first parse error
type loader struct {
	k   *koanf.Koanf
	err error
}

func (l *loader) getString(key, def string) string {
	if v := strings.TrimSpace(l.k.String(key)); v != "" {
		return v
	}
	return def
}

// getDuration accepts Go durations ("10s", "3m") and bare numbers as seconds
func (l *loader) getDuration(key string, def time.Duration) time.Duration {
	v := l.getString(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.fail(key, fmt.Errorf("not a positive duration: %q", v))
		return def
	}
	return d
}

func (l *loader) getFloat(key string, def float64) float64 {
	v := l.getString(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return f
}

func (l *loader) getInt(key string, def int) int {
	v := l.getString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return n
}

func (l *loader) getBool(key string, def bool) bool {
	v := l.getString(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return b
}

func (l *loader) fail(key string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", strings.ToUpper(key), err)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
