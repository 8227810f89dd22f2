package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/api"
	"github.com/dennisdiepolder/monti/livestats/internal/cache"
	"github.com/dennisdiepolder/monti/livestats/internal/config"
	"github.com/dennisdiepolder/monti/livestats/internal/metrics"
	"github.com/dennisdiepolder/monti/livestats/internal/normalize"
	"github.com/dennisdiepolder/monti/livestats/internal/session"
	"github.com/dennisdiepolder/monti/livestats/internal/source"
	"github.com/dennisdiepolder/monti/livestats/internal/storage"
	"github.com/dennisdiepolder/monti/livestats/internal/telemetry"
	"github.com/dennisdiepolder/monti/livestats/internal/upstream"
	"github.com/dennisdiepolder/monti/livestats/internal/websocket"
	"github.com/dennisdiepolder/monti/livestats/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("source_mode", cfg.SourceMode).
		Dur("poll_interval", cfg.PollInterval).
		Str("timezone", cfg.Timezone).
		Msg("starting MONTI live-stats server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Tracing {
		shutdown, err := telemetry.InitTracer("monti-livestats", log.Logger)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("failed to flush traces")
			}
		}()
	}

	src, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}

	classifier := cfg.Classifier.Build()

	// Catalog cache labels notifications and serves /api/catalog
	catalog := cache.NewCatalogCache(src, cfg.CatalogTTL, cfg.DetailTimeout, log.Logger)
	catalog.Warm(ctx)

	hub := websocket.NewHub(log.Logger)

	sessions := session.NewManager(session.Options{
		Source:            src,
		PollInterval:      cfg.PollInterval,
		StatsTimeout:      cfg.StatsTimeout,
		DisplayDuration:   cfg.NotifyDuration,
		MilestoneDuration: cfg.MilestoneDuration,
		IdleTimeout:       cfg.SessionIdleTimeout,
		Location:          cfg.Location,
		Classifier:        classifier,
		Labeler:           catalog,
		Publisher:         hub,
	}, log.Logger)
	sessions.StartReaper(time.Minute)
	defer sessions.Close()

	wsHandler := websocket.NewHandler(hub, sessions, cfg, log.Logger)
	sessionsHandler := api.NewSessionsHandler(sessions, log.Logger)
	detailsHandler := api.NewDetailsHandler(src, normalize.NewNormalizer(classifier, cfg.Location, log.Logger), cfg.DetailTimeout, log.Logger)
	catalogHandler := api.NewCatalogHandler(catalog, log.Logger)

	r := newRouter(cfg.AllowedOrigins, wsHandler, func(r chi.Router) {
		r.Mount("/sessions", sessionsHandler.Routes())
		r.Post("/details", detailsHandler.GetDetails)
		r.Get("/catalog", catalogHandler.GetCatalog)
	})

	// Create HTTP server. WriteTimeout stays off for the WebSocket route;
	// the client pumps set their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newSource selects the upstream implementation for SOURCE_MODE
func newSource(ctx context.Context, cfg *config.Config) (source.Source, error) {
	switch cfg.SourceMode {
	case config.SourceModeDynamo:
		ds, err := storage.NewDynamoSource(ctx, cfg.Dynamo, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init DynamoDB source: %w", err)
		}
		return ds, nil
	default:
		client := upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamRPS, log.Logger)
		healthCtx, cancel := context.WithTimeout(ctx, cfg.DetailTimeout)
		defer cancel()
		if err := client.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("url", cfg.UpstreamURL).Msg("upstream not reachable yet")
		}
		return client, nil
	}
}

// healthHandler handles health check requests
// newRouter wires the shared middleware, the operational endpoints and the
// WebSocket route; routes registers everything under /api.
func newRouter(allowedOrigins []string, ws http.Handler, routes func(chi.Router)) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Get().Handler())
	r.Get("/ws", ws.ServeHTTP)
	r.Route("/api", routes)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"monti-livestats"}`)
}
