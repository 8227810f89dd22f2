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
	_ "time/tzdata"

	"github.com/dennisdiepolder/monti/livestats/internal/clock"
	"github.com/dennisdiepolder/monti/livestats/internal/sim"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "statsim",
	Short: "Simulated call-center statistics upstream for local development",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Str("service", "statsim").
			Logger()
		return nil
	},
	SilenceUsage: true,
}

var serveOpts struct {
	port     string
	agents   int
	projects int
	seed     int64
	history  int
	calls    int
	tick     time.Duration
	timezone string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /stats, /calls and /catalog with growing counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := time.LoadLocation(serveOpts.timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}

		simulator := sim.New(sim.Config{
			Agents:       serveOpts.agents,
			Projects:     serveOpts.projects,
			Seed:         serveOpts.seed,
			HistoryDays:  serveOpts.history,
			CallsPerStep: serveOpts.calls,
			Location:     loc,
		}, clock.Real{}, log.Logger)

		if serveOpts.tick > 0 {
			simulator.Start(serveOpts.tick)
			defer simulator.Stop()
		}

		srv := &http.Server{
			Addr:              ":" + serveOpts.port,
			Handler:           sim.NewAPI(simulator, log.Logger).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info().
				Str("port", serveOpts.port).
				Int("agents", serveOpts.agents).
				Int("projects", serveOpts.projects).
				Dur("tick", serveOpts.tick).
				Msg("statsim ready")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down statsim")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	f := serveCmd.Flags()
	f.StringVar(&serveOpts.port, "port", "8081", "HTTP port")
	f.IntVar(&serveOpts.agents, "agents", 20, "number of simulated agents")
	f.IntVar(&serveOpts.projects, "projects", 4, "number of simulated projects")
	f.Int64Var(&serveOpts.seed, "seed", 1, "random seed")
	f.IntVar(&serveOpts.history, "history", 7, "days of pre-filled history before today")
	f.IntVar(&serveOpts.calls, "calls", 3, "calls simulated per tick")
	f.DurationVar(&serveOpts.tick, "tick", 5*time.Second, "simulation step interval, 0 to step only via POST /step")
	f.StringVar(&serveOpts.timezone, "timezone", "Europe/Berlin", "timezone of the date keys")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
