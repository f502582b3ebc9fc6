package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/RemiFigea/parkwatch/internal/config"
	"github.com/RemiFigea/parkwatch/internal/coordinator"
	"github.com/RemiFigea/parkwatch/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "parkwatch",
		Short: "Poll the real-time parking feed and record occupancy changes",
		Long: `parkwatch polls a real-time parking occupancy feed on a fixed cadence, detects
facilities whose closed flag or available space count changed, and appends those
changes to a SQL table.

Configuration is read from the environment and an optional .env file.`,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override PARKWATCH_LOG_LEVEL")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	var dryRun, restoreState bool

	cmd := &cobra.Command{
		Use:           "run",
		Short:         "Start the poller",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(rootOpts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.DryRun = dryRun
			}
			if cmd.Flags().Changed("restore-state") {
				cfg.RestoreState = restoreState
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().
				Str("feed_url", cfg.FeedURL).
				Str("driver", cfg.DB.Driver).
				Str("table", cfg.DB.Table).
				Dur("poll_interval", cfg.PollInterval).
				Int("state_ceiling", cfg.StateCeiling).
				Bool("dry_run", cfg.DryRun).
				Msg("parkwatch starting")

			if err := coordinator.New(logger, cfg).Run(ctx); err != nil {
				logger.Error().Err(err).Msg("parkwatch stopped with error")
				return err
			}
			logger.Info().Msg("parkwatch stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log alerts instead of sending them")
	cmd.Flags().BoolVar(&restoreState, "restore-state", false, "seed the state table from the latest stored rows")

	return cmd
}

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Create the change table and its index when missing",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(rootOpts)
			if err != nil {
				return err
			}
			if err := coordinator.Migrate(cmd.Context(), logger, cfg); err != nil {
				logger.Error().Err(err).Msg("migration failed")
				return err
			}
			return nil
		},
	}
}

func setup(opts *rootOptions) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.New()
		logger.Error().Err(err).Msg("invalid configuration")
		return config.Config{}, logger, err
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := logging.NewWithLevel(level).With().Str("run_id", uuid.NewString()).Logger()
	return cfg, logger, nil
}
