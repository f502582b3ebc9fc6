package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/RemiFigea/parkwatch/internal/sink"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	envFeedURL      = "PARKWATCH_FEED_URL"
	envPollInterval = "PARKWATCH_POLL_INTERVAL"
	envPassword     = "PGPASSWORD"
)

// DB describes the destination store.
type DB struct {
	Driver         string `env:"DRIVER" envDefault:"postgres"`
	Host           string `env:"HOST" envDefault:"127.0.0.1"`
	Port           int    `env:"PORT" envDefault:"5432"`
	Name           string `env:"NAME" envDefault:"parking_lyon_db"`
	Table          string `env:"TABLE" envDefault:"parking_table"`
	User           string `env:"USER" envDefault:"postgres"`
	SSLMode        string `env:"SSLMODE" envDefault:"disable"`
	Path           string `env:"PATH"`
	ConnectRetries int    `env:"CONNECT_RETRIES" envDefault:"0"`
	AutoMigrate    bool   `env:"AUTO_MIGRATE" envDefault:"false"`
}

// Config describes runtime configuration loaded from the environment.
type Config struct {
	FeedURL         string        `env:"PARKWATCH_FEED_URL" envDefault:"https://download.data.grandlyon.com/files/rdata/lpa_mobilite.donnees/parking_temps_reel.json"`
	FeedTimeout     time.Duration `env:"PARKWATCH_FEED_TIMEOUT" envDefault:"30s"`
	FeedMaxBytes    int64         `env:"PARKWATCH_FEED_MAX_BYTES" envDefault:"5242880"`
	FeedMinSpacing  time.Duration `env:"PARKWATCH_FEED_MIN_SPACING" envDefault:"1s"`
	PollInterval    time.Duration `env:"PARKWATCH_POLL_INTERVAL" envDefault:"60s"`
	ErrorBackoff    time.Duration `env:"PARKWATCH_ERROR_BACKOFF" envDefault:"60s"`
	StateCeiling    int           `env:"PARKWATCH_STATE_CEILING" envDefault:"30"`
	SnapshotDir     string        `env:"PARKWATCH_SNAPSHOT_DIR"`
	CatalogPath     string        `env:"PARKWATCH_CATALOG_PATH"`
	RestoreState    bool          `env:"PARKWATCH_RESTORE_STATE" envDefault:"false"`
	LogLevel        string        `env:"PARKWATCH_LOG_LEVEL" envDefault:"info"`
	HealthPort      int           `env:"PARKWATCH_HEALTH_PORT" envDefault:"0"`
	MetricsPort     int           `env:"PARKWATCH_METRICS_PORT" envDefault:"0"`
	SlackWebhookURL string        `env:"PARKWATCH_SLACK_WEBHOOK_URL"`
	WebhookURL      string        `env:"PARKWATCH_WEBHOOK_URL"`
	WebhookTemplate string        `env:"PARKWATCH_WEBHOOK_TEMPLATE"`
	DryRun          bool          `env:"PARKWATCH_DRY_RUN" envDefault:"false"`
	DB              DB            `envPrefix:"PARKWATCH_DB_"`
	DBPassword      string        `env:"PGPASSWORD"`
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
// The database credential is not checked here; see RequireCredential.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.FeedURL = strings.TrimSpace(cfg.FeedURL)
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.FeedURL == "" {
		return fmt.Errorf("%s is required", envFeedURL)
	}
	if err := validateURL(c.FeedURL, envFeedURL); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be greater than zero", envPollInterval)
	}
	if c.ErrorBackoff <= 0 {
		return errors.New("PARKWATCH_ERROR_BACKOFF must be greater than zero")
	}
	if c.FeedTimeout <= 0 {
		return errors.New("PARKWATCH_FEED_TIMEOUT must be greater than zero")
	}
	if c.FeedMinSpacing < 0 {
		return errors.New("PARKWATCH_FEED_MIN_SPACING cannot be negative")
	}
	if c.StateCeiling <= 0 {
		return errors.New("PARKWATCH_STATE_CEILING must be greater than zero")
	}
	if c.DB.ConnectRetries < 0 {
		return errors.New("PARKWATCH_DB_CONNECT_RETRIES cannot be negative")
	}
	if c.HealthPort < 0 || c.MetricsPort < 0 {
		return errors.New("ports cannot be negative")
	}

	switch c.DB.Driver {
	case sink.DriverPostgres:
	case sink.DriverSQLite:
		if strings.TrimSpace(c.DB.Path) == "" {
			return errors.New("PARKWATCH_DB_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("PARKWATCH_DB_DRIVER must be %q or %q, got %q", sink.DriverPostgres, sink.DriverSQLite, c.DB.Driver)
	}
	if !sink.ValidTableName(c.DB.Table) {
		return fmt.Errorf("invalid PARKWATCH_DB_TABLE %q", c.DB.Table)
	}

	if c.SlackWebhookURL != "" {
		if err := validateURL(c.SlackWebhookURL, "PARKWATCH_SLACK_WEBHOOK_URL"); err != nil {
			return err
		}
	}
	if c.WebhookURL != "" {
		if err := validateURL(c.WebhookURL, "PARKWATCH_WEBHOOK_URL"); err != nil {
			return err
		}
	}
	return nil
}

// RequireCredential fails with a fatal error when the driver needs a password and none is set.
func (c Config) RequireCredential() error {
	if c.DB.Driver != sink.DriverPostgres {
		return nil
	}
	if strings.TrimSpace(c.DBPassword) != "" {
		return nil
	}
	return &parking.Error{
		Kind: parking.KindMissingCredential,
		Op:   "validate environment",
		Err:  fmt.Errorf("%s environment variable not set", envPassword),
	}
}

// SinkSettings returns the connection settings for the store.
func (c Config) SinkSettings() sink.Settings {
	return sink.Settings{
		Driver:   c.DB.Driver,
		Host:     c.DB.Host,
		Port:     c.DB.Port,
		Database: c.DB.Name,
		User:     c.DB.User,
		Password: c.DBPassword,
		SSLMode:  c.DB.SSLMode,
		Path:     c.DB.Path,
		Table:    c.DB.Table,
	}
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
