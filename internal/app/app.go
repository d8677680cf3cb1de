// Package app assembles the archive pipeline from configuration. Both the
// CLI and the daemon build their components here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/feedvault/feedvault/internal/acquire"
	"github.com/feedvault/feedvault/internal/archive"
	"github.com/feedvault/feedvault/internal/feed"
	"github.com/feedvault/feedvault/internal/feed/reddit"
	"github.com/feedvault/feedvault/internal/ingestion"
	"github.com/feedvault/feedvault/internal/ledger"
	"github.com/feedvault/feedvault/internal/mirror"
	"github.com/feedvault/feedvault/pkg/config"
)

// App holds the wired pipeline.
type App struct {
	Config  *config.Config
	Store   *archive.Store
	Service *ingestion.Service
	Walker  *feed.Walker
	Ledger  ledger.Recorder

	closers []io.Closer
}

// Options replaces default collaborators, mainly for tests.
type Options struct {
	Source  feed.Source     // default: Reddit client from cfg.Reddit
	Fetcher acquire.Fetcher // default: ExecFetcher from cfg.Fetch
	Mirror  mirror.Mirror   // default: from cfg.Mirror
	Ledger  ledger.Recorder // default: Postgres when cfg.Ledger.DatabaseURL is set
}

// New validates cfg and wires the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Store: archive.NewStore(cfg.Archive.Root)}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = &acquire.ExecFetcher{
			GalleryPath: cfg.Fetch.GalleryDL,
			VideoPath:   cfg.Fetch.VideoTool,
			Timeout:     cfg.Fetch.Timeout,
		}
	}
	acq := acquire.New(fetcher,
		acquire.WithMaxItems(cfg.Fetch.MaxItems),
		acquire.WithLogger(logger.Named("acquire")),
	)

	m := opts.Mirror
	if m == nil {
		var err error
		if m, err = a.openMirror(ctx, cfg.Mirror); err != nil {
			return nil, errors.Join(err, a.Close())
		}
	}

	a.Ledger = opts.Ledger
	if a.Ledger == nil {
		if cfg.Ledger.DatabaseURL == "" {
			a.Ledger = ledger.Nop{}
		} else {
			pg, err := ledger.Open(ctx, cfg.Ledger.DatabaseURL)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("open ledger: %w", err), a.Close())
			}
			a.closers = append(a.closers, pg)
			a.Ledger = pg
		}
	}

	svc, err := ingestion.NewService(ingestion.ServiceConfig{
		Store:     a.Store,
		Workspace: cfg.WorkspaceDir(),
		Acquirer:  acq,
		Mirror:    m,
		Ledger:    a.Ledger,
		OnKnown:   ingestion.KnownPolicy(cfg.Ingest.OnKnown),
		Logger:    logger.Named("ingest"),
	})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	a.Service = svc

	source := opts.Source
	if source == nil {
		if err := cfg.ValidateCredentials(); err != nil {
			return nil, errors.Join(err, a.Close())
		}
		source = reddit.New(reddit.Config{
			ClientID:     cfg.Reddit.ClientID,
			ClientSecret: cfg.Reddit.ClientSecret,
			Username:     cfg.Reddit.Username,
			Password:     cfg.Reddit.Password,
			UserAgent:    cfg.Reddit.UserAgent,
		})
	}
	a.Walker = feed.NewWalker(source, svc, a.Ledger, cfg.Poll.Limit, logger.Named("feed"))

	return a, nil
}

// Poll runs one pass over every channel.
func (a *App) Poll(ctx context.Context) error {
	_, err := a.Walker.Walk(ctx)
	return err
}

// Close releases the ledger connection and mirror clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openMirror(ctx context.Context, cfg config.MirrorConfig) (mirror.Mirror, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "local":
		return mirror.NewLocalMirror(cfg.Dir), nil
	case "s3":
		return mirror.NewS3Mirror(ctx, mirror.S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	case "gcs":
		g, err := mirror.NewGCSMirror(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g)
		return g, nil
	default:
		return nil, fmt.Errorf("unknown mirror kind %q", cfg.Kind)
	}
}
