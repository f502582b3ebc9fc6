package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/RemiFigea/parkwatch/internal/config"
	"github.com/RemiFigea/parkwatch/internal/feed"
	"github.com/RemiFigea/parkwatch/internal/healthcheck"
	"github.com/RemiFigea/parkwatch/internal/metrics"
	"github.com/RemiFigea/parkwatch/internal/notify"
	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/RemiFigea/parkwatch/internal/runner"
	"github.com/RemiFigea/parkwatch/internal/server"
	"github.com/RemiFigea/parkwatch/internal/sink"
	"github.com/rs/zerolog"
)

const haltAlertTimeout = 15 * time.Second

// Phase names a supervisor lifecycle state, logged on every transition.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseConnecting Phase = "CONNECTING"
	PhasePolling    Phase = "POLLING"
	PhaseTerminated Phase = "TERMINATED"
)

// Coordinator supervises one poller: it validates the environment, connects the store,
// wires the observability surface and runs the poll loop until cancellation or a fatal error.
type Coordinator struct {
	logger      zerolog.Logger
	cfg         config.Config
	fetcher     feed.Fetcher
	connectOpts []sink.ConnectOption
	runnerOpts  []runner.Option
	tracker     *healthcheck.Tracker
	metrics     *metrics.Metrics
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithFetcher replaces the HTTP feed fetcher.
func WithFetcher(fetcher feed.Fetcher) Option {
	return func(c *Coordinator) {
		c.fetcher = fetcher
	}
}

// WithConnectOptions appends options passed to sink.Connect.
func WithConnectOptions(opts ...sink.ConnectOption) Option {
	return func(c *Coordinator) {
		c.connectOpts = append(c.connectOpts, opts...)
	}
}

// WithRunnerOptions appends options passed to the runner, after the configured ones.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(c *Coordinator) {
		c.runnerOpts = append(c.runnerOpts, opts...)
	}
}

// New constructs a Coordinator with the given configuration.
func New(logger zerolog.Logger, cfg config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:  logger,
		cfg:     cfg,
		tracker: healthcheck.NewTracker(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tracker returns the tracker fed by the poll loop.
func (c *Coordinator) Tracker() *healthcheck.Tracker {
	return c.tracker
}

// Run blocks until ctx is canceled or a fatal error occurs. Startup failures and fatal
// runtime errors are returned; cancellation returns nil. The store connection is closed on
// every path once it has been opened.
func (c *Coordinator) Run(ctx context.Context) error {
	c.enter(PhaseInit)
	if err := c.cfg.RequireCredential(); err != nil {
		return err
	}
	catalog, err := config.LoadCatalogFile(c.cfg.CatalogPath, c.cfg.StateCeiling)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if catalog != nil {
		c.logger.Info().Int("facilities", catalog.Len()).Str("path", c.cfg.CatalogPath).Msg("facility catalog loaded")
	}
	fetcher, err := c.buildFetcher()
	if err != nil {
		return err
	}
	var archive *feed.Archive
	if c.cfg.SnapshotDir != "" {
		if archive, err = feed.NewArchive(c.cfg.SnapshotDir, c.logger); err != nil {
			return err
		}
	}
	notifier, err := BuildNotifier(c.logger, c.cfg)
	if err != nil {
		return err
	}

	c.enter(PhaseConnecting)
	connectOpts := append([]sink.ConnectOption{sink.WithRetries(c.cfg.DB.ConnectRetries)}, c.connectOpts...)
	store, err := sink.Connect(ctx, c.logger, c.cfg.SinkSettings(), connectOpts...)
	if err != nil {
		return err
	}
	runCtx, stop := context.WithCancel(ctx)
	waitServers := func() {}
	defer func() {
		stop()
		waitServers()
		if closeErr := store.Close(); closeErr != nil {
			c.logger.Error().Err(closeErr).Msg("failed to close store")
		} else {
			c.logger.Info().Msg("store connection closed")
		}
		c.enter(PhaseTerminated)
	}()

	if c.cfg.DB.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return parking.Wrap(parking.KindConnectionFailed, "ensure schema", err)
		}
		c.logger.Info().Str("table", store.Table()).Msg("schema ensured")
	}

	runnerOpts := []runner.Option{
		runner.WithFetcher(fetcher),
		runner.WithSink(store),
		runner.WithArchive(archive),
		runner.WithNotifier(notifier),
		runner.WithCatalog(catalog),
		runner.WithMetrics(c.metrics),
		runner.WithTracker(c.tracker),
		runner.WithErrorBackoff(c.cfg.ErrorBackoff),
		runner.WithCeiling(c.cfg.StateCeiling),
	}

	if c.cfg.RestoreState {
		restored, err := store.LatestState(ctx)
		if err != nil {
			return parking.Wrap(parking.KindConnectionFailed, "restore state", err)
		}
		if err := restored.CheckCeiling(c.cfg.StateCeiling); err != nil {
			return err
		}
		c.tracker.Publish(restored)
		runnerOpts = append(runnerOpts, runner.WithInitialState(restored))
		c.logger.Info().Int("facilities", restored.Len()).Msg("state restored from store")
	}

	waitServers = server.Start(runCtx, c.logger, server.Options{
		PollInterval: c.cfg.PollInterval,
		Tracker:      c.tracker,
		Metrics:      c.metrics,
		Namer:        catalog,
		HealthPort:   c.cfg.HealthPort,
		MetricsPort:  c.cfg.MetricsPort,
	})

	c.enter(PhasePolling)
	r := runner.New(c.logger, c.cfg.PollInterval, append(runnerOpts, c.runnerOpts...)...)
	if err := r.Run(runCtx); err != nil {
		c.sendHaltAlert(notifier, err)
		return err
	}
	return nil
}

// Migrate connects to the store and creates the change table when missing.
func Migrate(ctx context.Context, logger zerolog.Logger, cfg config.Config, opts ...sink.ConnectOption) error {
	if err := cfg.RequireCredential(); err != nil {
		return err
	}
	store, err := sink.Connect(ctx, logger, cfg.SinkSettings(), opts...)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info().Str("table", store.Table()).Msg("schema ensured")
	return nil
}

// BuildNotifier assembles the configured alert channels. Dry-run wraps them so nothing is sent.
func BuildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.NewSlackNotifier(logger, cfg.SlackWebhookURL)}

	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	multi := notify.NewMultiNotifier(notifiers...)
	if cfg.DryRun {
		return notify.NewDryRunNotifier(logger, multi), nil
	}
	return multi, nil
}

func (c *Coordinator) buildFetcher() (feed.Fetcher, error) {
	if c.fetcher != nil {
		return c.fetcher, nil
	}
	fetcher, err := feed.NewHTTPFetcher(c.cfg.FeedURL, c.cfg.FeedTimeout, c.cfg.FeedMaxBytes,
		feed.WithMinSpacing(c.cfg.FeedMinSpacing))
	if err != nil {
		return nil, fmt.Errorf("init feed fetcher: %w", err)
	}
	return fetcher, nil
}

func (c *Coordinator) sendHaltAlert(notifier notify.Notifier, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), haltAlertTimeout)
	defer cancel()
	if err := notifier.Notify(ctx, []notify.Alert{notify.HaltAlert(cause)}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send halt alert")
		return
	}
	c.metrics.IncAlertsTotal(string(notify.EventHalted))
}

func (c *Coordinator) enter(phase Phase) {
	c.logger.Info().Str("phase", string(phase)).Msg("supervisor phase")
}
