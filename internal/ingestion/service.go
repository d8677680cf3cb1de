// Package ingestion runs the per-post state machine: existence check,
// media acquisition, deduplication, and the paired metadata/relations commit.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/feedvault/feedvault/internal/archive"
	"github.com/feedvault/feedvault/internal/dedup"
	"github.com/feedvault/feedvault/internal/ledger"
	"github.com/feedvault/feedvault/internal/mirror"
	"github.com/feedvault/feedvault/pkg/post"
)

// State is a step of the per-post lifecycle.
type State string

const (
	StateDiscovered    State = "discovered"
	StateChecked       State = "checked"
	StateAcquiring     State = "acquiring"
	StateDeduplicating State = "deduplicating"
	StateCommitted     State = "committed"
	StateSkipped       State = "skipped"
	StateRefreshed     State = "refreshed"
	StateFailed        State = "failed"
)

// KnownPolicy decides what happens to a post id that is already archived.
type KnownPolicy string

const (
	// KnownSkip leaves known posts untouched.
	KnownSkip KnownPolicy = "skip"
	// KnownRefresh rewrites the stored metadata with the newly captured
	// record. Media and relations are never touched.
	KnownRefresh KnownPolicy = "refresh"
)

// Acquirer fills a workspace with a post's media.
type Acquirer interface {
	Acquire(ctx context.Context, rec post.Record, workspace string) ([]string, error)
}

// Request is one discovered post.
type Request struct {
	Record  post.Record
	Channel string
	RunID   string
}

// Outcome is the terminal result of processing a post.
type Outcome struct {
	PostID       string
	State        State
	Fingerprints []string
	NewContent   int
	Duration     time.Duration
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store     *archive.Store
	Workspace string
	Acquirer  Acquirer
	Mirror    mirror.Mirror   // optional
	Ledger    ledger.Recorder // optional
	OnKnown   KnownPolicy
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Service orchestrates the ingestion pipeline.
type Service struct {
	store     *archive.Store
	workspace string
	acquirer  Acquirer
	dedup     *dedup.Deduplicator
	mirror    mirror.Mirror
	ledger    ledger.Recorder
	onKnown   KnownPolicy
	logger    *zap.Logger
	clock     func() time.Time
}

// NewService validates cfg and creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingestion: store is required")
	}
	if cfg.Workspace == "" {
		return nil, errors.New("ingestion: workspace is required")
	}
	if cfg.Acquirer == nil {
		return nil, errors.New("ingestion: acquirer is required")
	}
	switch cfg.OnKnown {
	case "":
		cfg.OnKnown = KnownSkip
	case KnownSkip, KnownRefresh:
	default:
		return nil, fmt.Errorf("ingestion: unknown policy %q for known posts", cfg.OnKnown)
	}
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Service{
		store:     cfg.Store,
		workspace: cfg.Workspace,
		acquirer:  cfg.Acquirer,
		dedup:     dedup.New(cfg.Store, cfg.Logger),
		mirror:    cfg.Mirror,
		ledger:    cfg.Ledger,
		onKnown:   cfg.OnKnown,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}, nil
}

// Process runs one post to a terminal state. A non-nil error always comes
// with StateFailed; the post is then not marked as known and a later pass
// retries it.
func (s *Service) Process(ctx context.Context, req Request) (out Outcome, err error) {
	start := s.clock()
	rec := req.Record
	out = Outcome{PostID: rec.ID(), State: StateDiscovered}
	log := s.logger.With(zap.String("post_id", out.PostID), zap.String("channel", req.Channel))

	defer func() {
		out.Duration = s.clock().Sub(start)
		if err != nil {
			out.State = StateFailed
			log.Error("post failed", zap.Error(err))
		}
		// A cancelled pass still reports how far the post got.
		s.record(context.WithoutCancel(ctx), req, out, err, log)
	}()

	if out.PostID == "" {
		return out, errors.New("post has no id")
	}

	known, err := s.store.Exists(archive.KindRelations, out.PostID)
	if err != nil {
		return out, fmt.Errorf("existence check: %w", err)
	}
	if known {
		if s.onKnown == KnownRefresh {
			if err := s.store.Put(archive.KindInfo, out.PostID, rec); err != nil {
				return out, fmt.Errorf("refresh metadata: %w", err)
			}
			out.State = StateRefreshed
			log.Debug("metadata refreshed")
			return out, nil
		}
		out.State = StateSkipped
		return out, nil
	}
	out.State = StateChecked
	log.Info("new post", zap.String("title", rec.Title()))

	if err := s.resetWorkspace(log); err != nil {
		return out, err
	}

	out.State = StateAcquiring
	files, err := s.acquirer.Acquire(ctx, rec, s.workspace)
	if err != nil {
		return out, fmt.Errorf("acquire: %w", err)
	}

	out.State = StateDeduplicating
	placements, err := s.dedup.Commit(s.workspace, files)
	if err != nil {
		return out, fmt.Errorf("deduplicate: %w", err)
	}
	out.Fingerprints = dedup.Fingerprints(placements)
	for _, p := range placements {
		if p.Placed {
			out.NewContent++
		}
	}

	if err := s.mirrorContent(ctx, out.Fingerprints); err != nil {
		return out, err
	}

	// Relations is the existence marker, so it is written last: a crash in
	// between leaves the post unknown and it is reprocessed.
	if err := s.store.Put(archive.KindInfo, out.PostID, rec); err != nil {
		return out, fmt.Errorf("commit metadata: %w", err)
	}
	if err := s.store.Put(archive.KindRelations, out.PostID, out.Fingerprints); err != nil {
		return out, fmt.Errorf("commit relations: %w", err)
	}
	out.State = StateCommitted
	log.Info("post committed",
		zap.Int("content", len(out.Fingerprints)),
		zap.Int("new_content", out.NewContent),
	)
	return out, nil
}

func (s *Service) resetWorkspace(log *zap.Logger) error {
	if err := os.MkdirAll(s.workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	entries, err := os.ReadDir(s.workspace)
	if err != nil {
		return fmt.Errorf("list workspace: %w", err)
	}
	for _, e := range entries {
		log.Warn("removing stale workspace entry", zap.String("entry", e.Name()))
		if err := os.RemoveAll(filepath.Join(s.workspace, e.Name())); err != nil {
			return fmt.Errorf("reset workspace: %w", err)
		}
	}
	return nil
}

func (s *Service) mirrorContent(ctx context.Context, fingerprints []string) error {
	if s.mirror == nil {
		return nil
	}
	done := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		if done[fp] {
			continue
		}
		done[fp] = true

		ok, err := s.mirror.HasContent(ctx, fp)
		if err != nil {
			return fmt.Errorf("mirror check %s: %w", fp, err)
		}
		if ok {
			continue
		}
		if err := s.mirror.PutContent(ctx, fp, s.store.ContentPath(fp)); err != nil {
			return fmt.Errorf("mirror %s: %w", fp, err)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, req Request, out Outcome, procErr error, log *zap.Logger) {
	if out.State == StateSkipped {
		return
	}
	e := ledger.Entry{
		RunID:        req.RunID,
		PostID:       out.PostID,
		Channel:      req.Channel,
		State:        string(out.State),
		ContentCount: len(out.Fingerprints),
		NewContent:   out.NewContent,
		Duration:     out.Duration,
	}
	if procErr != nil {
		e.Error = procErr.Error()
	}
	if err := s.ledger.Record(ctx, e); err != nil {
		log.Warn("ledger record failed", zap.Error(err))
	}
}
