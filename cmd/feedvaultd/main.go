// Command feedvaultd is the feedvault daemon.
// It polls every channel, resting poll.interval between passes, and serves a
// health check, a manual poll trigger, and read access to archived posts.
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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feedvault/feedvault/internal/app"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/scheduler"
	"github.com/feedvault/feedvault/pkg/config"
)

var cfgFile string

func main() {
	v := config.NewViper()
	rootCmd := &cobra.Command{
		Use:          "feedvaultd",
		Short:        "feedvault polling daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), v)
		},
	}
	setupFlags(rootCmd, v)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) {
	defaults := config.DefaultConfig()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.HTTP.Address, "HTTP listen address")
	cmd.PersistentFlags().String("archive-root", defaults.Archive.Root, "Archive root directory")
	cmd.PersistentFlags().String("log-level", defaults.Log.Level, "Log level (debug, info, warn, error)")

	bindFlag(cmd, v, "http.address", "http-address")
	bindFlag(cmd, v, "archive.root", "archive-root")
	bindFlag(cmd, v, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if cwd, err := os.Getwd(); err == nil {
			path = config.FindConfigFile(cwd)
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(v); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func runDaemon(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(signalCtx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(cfg.Poll.Interval, a.Poll, logger.Named("scheduler"))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           newServer(a.Store, sched, a.Ledger, logger.Named("http")).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server starting", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("daemon stopped", zap.Error(err))
		return err
	}
	return nil
}
