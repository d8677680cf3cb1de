package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feedvault/feedvault/internal/app"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/scheduler"
	"github.com/feedvault/feedvault/pkg/config"
)

func newRunCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every channel forever",
		Long:  `Runs a poll pass immediately, then again poll.interval after each pass ends, until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), s, func(ctx context.Context, a *app.App, logger *zap.Logger) error {
				sched, err := scheduler.New(a.Config.Poll.Interval, a.Poll, logger.Named("scheduler"))
				if err != nil {
					return err
				}
				return sched.Run(ctx)
			})
		},
	}
	cmd.Flags().Duration("interval", 0, "Poll interval (overrides poll.interval)")
	s.bindLocal(cmd, "poll.interval", "interval")
	return cmd
}

func newOnceCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single poll pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), s, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				return a.Poll(ctx)
			})
		},
	}
	cmd.Flags().Int("limit", 0, "Newest posts listed per channel (overrides poll.limit)")
	s.bindLocal(cmd, "poll.limit", "limit")
	return cmd
}

func (s *settings) bindLocal(cmd *cobra.Command, key, flag string) {
	if err := s.viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// withApp loads config, builds the logger and pipeline, and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(ctx context.Context, s *settings, fn func(context.Context, *app.App, *zap.Logger) error) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	logStartup(logger, cfg)
	return fn(ctx, a, logger)
}

func logStartup(logger *zap.Logger, cfg *config.Config) {
	logger.Info("feedvault starting",
		zap.String("version", version),
		zap.String("archive", cfg.Archive.Root),
		zap.String("workspace", cfg.WorkspaceDir()),
		zap.String("on_known", cfg.Ingest.OnKnown),
		zap.String("mirror", cfg.Mirror.Kind),
		zap.Bool("ledger", cfg.Ledger.DatabaseURL != ""),
	)
}
