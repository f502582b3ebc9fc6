package runner

import (
	"context"
	"errors"
	"time"

	"github.com/RemiFigea/parkwatch/internal/config"
	"github.com/RemiFigea/parkwatch/internal/feed"
	"github.com/RemiFigea/parkwatch/internal/healthcheck"
	"github.com/RemiFigea/parkwatch/internal/metrics"
	"github.com/RemiFigea/parkwatch/internal/notify"
	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/RemiFigea/parkwatch/internal/sink"
	"github.com/RemiFigea/parkwatch/internal/state"
	"github.com/RemiFigea/parkwatch/internal/transition"
	"github.com/rs/zerolog"
)

const notifyTimeout = 30 * time.Second

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Reset(d time.Duration) {
	t.ticker.Reset(d)
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Runner owns the state table and drives fetch, normalize, diff and persist once per tick.
type Runner struct {
	logger          zerolog.Logger
	pollInterval    time.Duration
	errorBackoff    time.Duration
	ceiling         int
	tickerFactory   func(time.Duration) Ticker
	runOnce         func(context.Context) error
	fetcher         feed.Fetcher
	sink            sink.Sink
	archive         *feed.Archive
	notifier        notify.Notifier
	catalog         *config.Catalog
	metrics         *metrics.Metrics
	tracker         *healthcheck.Tracker
	table           *state.Table
	tick            uint64
	lastFingerprint string
	warnedUnknown   map[string]bool
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-tick execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithFetcher sets the snapshot fetcher used by the default tick.
func WithFetcher(fetcher feed.Fetcher) Option {
	return func(r *Runner) {
		r.fetcher = fetcher
	}
}

// WithSink sets the destination for detected changes.
func WithSink(s sink.Sink) Option {
	return func(r *Runner) {
		r.sink = s
	}
}

// WithArchive keeps each fetched body on disk.
func WithArchive(archive *feed.Archive) Option {
	return func(r *Runner) {
		r.archive = archive
	}
}

// WithNotifier enables closure alerts.
func WithNotifier(notifier notify.Notifier) Option {
	return func(r *Runner) {
		r.notifier = notifier
	}
}

// WithCatalog names known facilities and flags unknown ones.
func WithCatalog(catalog *config.Catalog) Option {
	return func(r *Runner) {
		r.catalog = catalog
	}
}

// WithMetrics records tick metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracker publishes tick timing and state for the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// WithErrorBackoff sets the wait after a failed tick. Defaults to the poll interval.
func WithErrorBackoff(d time.Duration) Option {
	return func(r *Runner) {
		r.errorBackoff = d
	}
}

// WithCeiling bounds the number of tracked facilities. Defaults to state.DefaultCeiling.
func WithCeiling(ceiling int) Option {
	return func(r *Runner) {
		r.ceiling = ceiling
	}
}

// WithInitialState seeds the state table, e.g. from the store's latest rows.
func WithInitialState(table *state.Table) Option {
	return func(r *Runner) {
		r.table = table.Clone()
	}
}

// New constructs a Runner with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		ceiling:      state.DefaultCeiling,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		table:         state.NewTable(),
		warnedUnknown: map[string]bool{},
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}
	if r.errorBackoff <= 0 {
		r.errorBackoff = r.pollInterval
	}

	return r
}

// Run ticks immediately, then once per poll interval, until the context is canceled
// or a tick fails with a fatal error. After a recoverable failure the next tick waits
// the error backoff instead. Cancellation returns nil; a fatal error is returned as is.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	backingOff := false
	for {
		err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			r.logger.Info().Msg("runner stopped")
			return nil
		}

		switch {
		case err != nil && parking.IsFatal(err):
			r.logger.Error().Err(err).Uint64("tick", r.tick).Str("kind", kindLabel(err)).Msg("fatal error, stopping runner")
			return err
		case err != nil:
			r.logger.Error().Err(err).Uint64("tick", r.tick).Str("kind", kindLabel(err)).Msg("tick failed")
			if !backingOff {
				backingOff = true
				ticker.Reset(r.errorBackoff)
				r.logger.Warn().Str("phase", "ERROR_BACKOFF").Dur("wait", r.errorBackoff).Msg("entering error backoff")
			}
		case backingOff:
			backingOff = false
			ticker.Reset(r.pollInterval)
			r.logger.Info().Str("phase", "POLLING").Msg("recovered from error backoff")
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
		}
	}
}

// RunOnce advances the tick counter and executes a single tick.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.tick++
	return r.runOnce(ctx)
}

// Tick returns the number of ticks started so far.
func (r *Runner) Tick() uint64 {
	return r.tick
}

// State returns a copy of the current state table.
func (r *Runner) State() *state.Table {
	return r.table.Clone()
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	start := time.Now()
	logger := r.logger.With().Uint64("tick", r.tick).Logger()

	outcome, err := r.poll(ctx, logger)
	duration := time.Since(start)

	if err != nil {
		outcome = metrics.OutcomeFailed
		r.metrics.IncErrors(kindLabel(err))
	} else {
		r.metrics.SetLastSuccessfulTickTimestamp(time.Now())
	}
	r.metrics.ObserveTick(duration, outcome)
	r.metrics.SetTrackedFacilities(r.table.Len())
	r.tracker.RecordTick(duration, r.tick, r.table, err)

	logger.Debug().Dur("duration", duration).Str("outcome", outcome).Msg("tick finished")
	return err
}

func (r *Runner) poll(ctx context.Context, logger zerolog.Logger) (string, error) {
	if r.fetcher == nil || r.sink == nil {
		return "", errors.New("runner requires a fetcher and a sink")
	}

	snapshot, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return "", err
	}
	r.archiveSnapshot(logger, snapshot.Body)

	if snapshot.Empty() {
		logger.Info().Msg("snapshot empty, skipping diff")
		return metrics.OutcomeEmpty, nil
	}

	fingerprint, err := feed.Fingerprint(snapshot.Body)
	if err != nil {
		return "", parking.Wrap(parking.KindUpstreamUnavailable, "fingerprint snapshot", err)
	}
	logger = logger.With().Str("fingerprint", fingerprint).Logger()
	if fingerprint == r.lastFingerprint {
		logger.Info().Int("records", len(snapshot.Records)).Msg("snapshot unchanged, skipping diff")
		return metrics.OutcomeUnchanged, nil
	}

	batch, err := feed.Normalize(snapshot.Records, feed.RequiredFields)
	if err != nil {
		return "", err
	}
	if dropped := len(snapshot.Records) - len(batch); dropped > 0 {
		logger.Warn().Int("dropped", dropped).Msg("snapshot entries without facility id ignored")
	}
	r.warnUnknownFacilities(logger, batch)

	changes, updated, err := transition.DetectChanges(batch, r.table, r.ceiling)
	if err != nil {
		return "", err
	}
	// The table advances before persisting; a failed write is not replayed on the next tick.
	r.table = updated
	r.lastFingerprint = fingerprint
	r.tracker.Publish(updated)
	r.metrics.AddChanges(len(changes))

	logger.Info().
		Int("records", len(batch)).
		Int("changes", len(changes)).
		Int("tracked", updated.Len()).
		Msg("changes detected")

	if len(changes) == 0 {
		return metrics.OutcomeUnchanged, nil
	}

	persistErr := r.sink.Persist(ctx, transition.Records(changes))
	if persistErr == nil {
		r.metrics.AddPersistedRows(len(changes))
		logger.Info().Int("rows", len(changes)).Msg("changes persisted")
	}

	r.notifyClosures(ctx, logger, changes)

	if persistErr != nil {
		return "", persistErr
	}
	return metrics.OutcomeChanged, nil
}

func (r *Runner) archiveSnapshot(logger zerolog.Logger, body []byte) {
	if r.archive == nil {
		return
	}
	path, err := r.archive.Save(r.tick, body)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to archive snapshot")
		return
	}
	logger.Debug().Str("path", path).Int("bytes", len(body)).Msg("snapshot archived")
}

func (r *Runner) warnUnknownFacilities(logger zerolog.Logger, batch []parking.StatusRecord) {
	if r.catalog.Len() == 0 {
		return
	}
	for _, record := range batch {
		if _, ok := r.catalog.Lookup(record.FacilityID); ok || r.warnedUnknown[record.FacilityID] {
			continue
		}
		r.warnedUnknown[record.FacilityID] = true
		logger.Warn().Str("facility_id", record.FacilityID).Msg("facility not in catalog")
	}
}

func (r *Runner) notifyClosures(ctx context.Context, logger zerolog.Logger, changes []transition.Change) {
	if r.notifier == nil {
		return
	}
	alerts := notify.ClosureAlerts(changes, r.catalog)
	if len(alerts) == 0 {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := r.notifier.Notify(notifyCtx, alerts); err != nil {
		logger.Warn().Err(err).Int("alerts", len(alerts)).Msg("failed to send closure alerts")
		return
	}
	for _, alert := range alerts {
		r.metrics.IncAlertsTotal(string(alert.Event))
	}
}

func kindLabel(err error) string {
	if kind, ok := parking.KindOf(err); ok {
		return string(kind)
	}
	return "unknown"
}
