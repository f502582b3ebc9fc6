package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/RemiFigea/parkwatch/internal/healthcheck"
	"github.com/RemiFigea/parkwatch/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Options configures the observability servers. A zero port disables that server.
type Options struct {
	PollInterval time.Duration
	Tracker      *healthcheck.Tracker
	Metrics      *metrics.Metrics
	Namer        healthcheck.Namer
	HealthPort   int
	MetricsPort  int
}

// Start launches health and metrics HTTP servers as configured.
// The servers shut down when ctx is canceled; the returned wait blocks until they have.
func Start(ctx context.Context, logger zerolog.Logger, opts Options) (wait func()) {
	var wg sync.WaitGroup
	wait = wg.Wait

	if opts.HealthPort == 0 && opts.MetricsPort == 0 {
		return wait
	}

	if opts.HealthPort > 0 && opts.HealthPort == opts.MetricsPort {
		startServer(ctx, logger, &wg, NewMux(opts, true, true), opts.HealthPort, "health/metrics")
		return wait
	}

	if opts.HealthPort > 0 {
		startServer(ctx, logger, &wg, NewMux(opts, true, false), opts.HealthPort, "health")
	}

	if opts.MetricsPort > 0 {
		startServer(ctx, logger, &wg, NewMux(opts, false, true), opts.MetricsPort, "metrics")
	}
	return wait
}

// NewMux builds the route table for one server.
func NewMux(opts Options, health, metrics bool) *http.ServeMux {
	mux := http.NewServeMux()
	if health {
		registerHealthRoutes(mux, opts)
	}
	if metrics {
		registerMetricsRoute(mux, opts)
	}
	return mux
}

func registerHealthRoutes(mux *http.ServeMux, opts Options) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(opts.Tracker, opts.PollInterval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(opts.Tracker))
	mux.HandleFunc("/state", healthcheck.StateHandler(opts.Tracker, opts.Namer))
}

func registerMetricsRoute(mux *http.ServeMux, opts Options) {
	if opts.Metrics == nil {
		return
	}
	mux.Handle("/metrics", opts.Metrics.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, wg *sync.WaitGroup, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
			return
		}
		logger.Info().Str("server", label).Int("port", port).Msg("http server stopped")
	}()
}
