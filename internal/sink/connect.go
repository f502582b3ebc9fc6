package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type connectConfig struct {
	retries         int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// ConnectOption customizes Connect.
type ConnectOption func(*connectConfig)

// WithRetries allows up to n additional connection attempts after the first one.
func WithRetries(n int) ConnectOption {
	return func(c *connectConfig) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithRetryIntervals overrides the exponential backoff bounds (primarily for testing).
func WithRetryIntervals(initial, max time.Duration) ConnectOption {
	return func(c *connectConfig) {
		c.initialInterval = initial
		c.maxInterval = max
	}
}

// Connect opens the store, retrying with exponential backoff when configured.
// Configuration errors are not retried. Final failure is a fatal connection error.
func Connect(ctx context.Context, logger zerolog.Logger, settings Settings, opts ...ConnectOption) (*Store, error) {
	cfg := connectConfig{
		initialInterval: time.Second,
		maxInterval:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := dialectFor(settings.Driver); err != nil {
		return nil, parking.Wrap(parking.KindConnectionFailed, "connect to store", err)
	}
	if _, err := settings.DSN(); err != nil {
		return nil, parking.Wrap(parking.KindConnectionFailed, "connect to store", err)
	}
	if !ValidTableName(settings.Table) {
		return nil, parking.Wrap(parking.KindConnectionFailed, "connect to store", fmt.Errorf("invalid table name %q", settings.Table))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.initialInterval
	policy.MaxInterval = cfg.maxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()

	var store *Store
	attempt := 0
	operation := func() error {
		attempt++
		opened, err := Open(ctx, settings)
		if err != nil {
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", cfg.retries+1).
				Msg("store connection attempt failed")
			return err
		}
		store = opened
		return nil
	}

	strategy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(cfg.retries)), ctx)
	if err := backoff.Retry(operation, strategy); err != nil {
		return nil, parking.Wrap(parking.KindConnectionFailed, "connect to store", err)
	}

	logger.Info().
		Str("driver", settings.Driver).
		Str("table", settings.Table).
		Int("attempts", attempt).
		Msg("store connected")
	return store, nil
}
