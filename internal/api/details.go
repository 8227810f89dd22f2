package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/grouping"
	"github.com/dennisdiepolder/monti/livestats/internal/normalize"
	"github.com/dennisdiepolder/monti/livestats/internal/source"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
)

// CallRecordFetcher loads raw call records for a filter window
type CallRecordFetcher interface {
	FetchCallRecords(ctx context.Context, filters types.FilterSet) ([]types.RawCallRecord, error)
}

// DetailsHandler serves grouped per-call details for a filter window
type DetailsHandler struct {
	fetcher    CallRecordFetcher
	normalizer *normalize.Normalizer
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewDetailsHandler creates a new DetailsHandler
func NewDetailsHandler(fetcher CallRecordFetcher, normalizer *normalize.Normalizer, timeout time.Duration, logger zerolog.Logger) *DetailsHandler {
	return &DetailsHandler{
		fetcher:    fetcher,
		normalizer: normalizer,
		timeout:    timeout,
		logger:     logger.With().Str("component", "details_handler").Logger(),
	}
}

// GetDetails fetches, normalizes and groups call records
// POST /api/details
func (h *DetailsHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	filters, ok := decodeFilters(w, r)
	if !ok {
		return
	}
	if !filters.Valid() {
		http.Error(w, "filters need at least one agent, one project and one date bound", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	raws, err := h.fetcher.FetchCallRecords(ctx, filters)
	if err != nil {
		err = source.Wrap("calls", err)
		status := http.StatusBadGateway
		if source.IsTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		h.logger.Error().Err(err).Int("status", status).Msg("failed to fetch call records")
		http.Error(w, "failed to retrieve call records", status)
		return
	}

	groups := grouping.NormalizeAndGroup(raws, h.normalizer)
	if groups == nil {
		groups = []types.CallGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}
