package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/source"
	"github.com/dennisdiepolder/monti/livestats/internal/telemetry"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// Client reads statistics from the upstream HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

var _ source.Source = (*Client)(nil)

// NewClient creates a client for baseURL allowing rps requests per second.
// rps <= 0 disables rate limiting. Per-call deadlines come from the context.
func NewClient(baseURL string, rps float64, logger zerolog.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "upstream").Logger(),
	}
}

// FetchStats posts the filter set to /stats
func (c *Client) FetchStats(ctx context.Context, filters types.FilterSet) ([]types.StatRow, error) {
	var rows []types.StatRow
	if err := c.do(ctx, "stats", http.MethodPost, "/stats", filters, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchCallRecords posts the filter set to /calls
func (c *Client) FetchCallRecords(ctx context.Context, filters types.FilterSet) ([]types.RawCallRecord, error) {
	var records []types.RawCallRecord
	if err := c.do(ctx, "calls", http.MethodPost, "/calls", filters, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FetchCatalog reads /catalog
func (c *Client) FetchCatalog(ctx context.Context) (types.Catalog, error) {
	var catalog types.Catalog
	if err := c.do(ctx, "catalog", http.MethodGet, "/catalog", nil, &catalog); err != nil {
		return types.Catalog{}, err
	}
	return catalog, nil
}

// Health checks if the upstream is reachable
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status code %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "upstream."+op)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return &source.FetchError{Op: op, Err: fmt.Errorf("rate limit: %w", err)}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &source.FetchError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &source.FetchError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &source.FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &source.FetchError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(data))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &source.FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}

	c.logger.Debug().
		Str("op", op).
		Dur("duration", time.Since(start)).
		Msg("upstream request completed")
	return nil
}
