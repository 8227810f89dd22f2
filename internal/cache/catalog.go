package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/metrics"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const catalogKey = "catalog"

// CatalogLoader fetches the catalog from the upstream
type CatalogLoader interface {
	FetchCatalog(ctx context.Context) (types.Catalog, error)
}

type catalogEntry struct {
	catalog  types.Catalog
	agents   map[string]string
	projects map[string]string
}

// CatalogCache keeps the agent/project catalog for a TTL and resolves
// display names from it. Concurrent loads share one upstream call.
type CatalogCache struct {
	loader  CatalogLoader
	timeout time.Duration
	entries *expirable.LRU[string, *catalogEntry]
	group   singleflight.Group
	logger  zerolog.Logger

	// last successfully loaded entry, used for labels after expiry
	mu   sync.RWMutex
	last *catalogEntry
}

// NewCatalogCache creates a cache that reloads after ttl. Each load is
// bounded by timeout.
func NewCatalogCache(loader CatalogLoader, ttl, timeout time.Duration, logger zerolog.Logger) *CatalogCache {
	return &CatalogCache{
		loader:  loader,
		timeout: timeout,
		entries: expirable.NewLRU[string, *catalogEntry](1, nil, ttl),
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// Get returns the cached catalog, loading it when missing or expired
func (c *CatalogCache) Get(ctx context.Context) (types.Catalog, error) {
	if e, ok := c.entries.Get(catalogKey); ok {
		return e.catalog, nil
	}

	v, err, shared := c.group.Do(catalogKey, func() (any, error) {
		return c.load(ctx)
	})
	if err != nil {
		return types.Catalog{}, err
	}
	if shared {
		c.logger.Debug().Msg("catalog load shared")
	}
	return v.(*catalogEntry).catalog, nil
}

// Warm loads the catalog in the background. Errors are logged only.
func (c *CatalogCache) Warm(ctx context.Context) {
	go func() {
		if _, err := c.Get(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("catalog warm-up failed")
		}
	}()
}

// Invalidate drops the cached catalog so the next Get reloads it
func (c *CatalogCache) Invalidate() {
	c.entries.Remove(catalogKey)
}

// AgentName resolves an agent id from the last loaded catalog without
// blocking. Unknown ids are returned as-is.
func (c *CatalogCache) AgentName(id string) string {
	if e := c.current(); e != nil {
		if name, ok := e.agents[id]; ok {
			return name
		}
	}
	return id
}

// ProjectName resolves a project id like AgentName
func (c *CatalogCache) ProjectName(id string) string {
	if e := c.current(); e != nil {
		if name, ok := e.projects[id]; ok {
			return name
		}
	}
	return id
}

func (c *CatalogCache) current() *catalogEntry {
	if e, ok := c.entries.Peek(catalogKey); ok {
		return e
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *CatalogCache) load(ctx context.Context) (*catalogEntry, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	catalog, err := c.loader.FetchCatalog(ctx)
	metrics.Get().RecordCatalogLoad(err == nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load catalog")
		return nil, err
	}

	e := &catalogEntry{
		catalog:  catalog,
		agents:   make(map[string]string, len(catalog.Agents)),
		projects: make(map[string]string, len(catalog.Projects)),
	}
	for _, a := range catalog.Agents {
		e.agents[a.ID] = a.Name
	}
	for _, p := range catalog.Projects {
		e.projects[p.ID] = p.Name
	}

	c.entries.Add(catalogKey, e)
	c.mu.Lock()
	c.last = e
	c.mu.Unlock()

	c.logger.Info().
		Int("agents", len(catalog.Agents)).
		Int("projects", len(catalog.Projects)).
		Dur("duration", time.Since(start)).
		Msg("catalog loaded")
	return e, nil
}
