package api

import (
	"context"
	"net/http"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
)

// CatalogProvider returns the known agents and projects
type CatalogProvider interface {
	Get(ctx context.Context) (types.Catalog, error)
}

// CatalogHandler serves the agent and project catalog
type CatalogHandler struct {
	catalog CatalogProvider
	logger  zerolog.Logger
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(catalog CatalogProvider, logger zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		logger:  logger.With().Str("component", "catalog_handler").Logger(),
	}
}

// GetCatalog returns the cached catalog
// GET /api/catalog
func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.catalog.Get(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load catalog")
		http.Error(w, "failed to retrieve catalog", http.StatusBadGateway)
		return
	}

	if catalog.Agents == nil {
		catalog.Agents = []types.CatalogEntry{}
	}
	if catalog.Projects == nil {
		catalog.Projects = []types.CatalogEntry{}
	}
	writeJSON(w, http.StatusOK, catalog)
}
