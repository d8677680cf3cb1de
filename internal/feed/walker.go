// Package feed enumerates the configured channels, lists their newest posts,
// and hands each post to the ingestion pipeline.
package feed

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/feedvault/feedvault/internal/ingestion"
	"github.com/feedvault/feedvault/internal/ledger"
	"github.com/feedvault/feedvault/pkg/post"
)

// AuthorMarker prefixes channel names that are per-author feeds.
const AuthorMarker = "u_"

// DefaultLimit is the per-channel listing size.
const DefaultLimit = 1000

// Channel is a subscribed feed.
type Channel struct {
	Name   string
	Author bool
}

// ParseChannel turns a subscription display name into a Channel, routing
// AuthorMarker-prefixed names to the author's submissions.
func ParseChannel(displayName string) Channel {
	if name, ok := strings.CutPrefix(displayName, AuthorMarker); ok {
		return Channel{Name: name, Author: true}
	}
	return Channel{Name: displayName}
}

// String returns the display name the channel was parsed from.
func (c Channel) String() string {
	if c.Author {
		return AuthorMarker + c.Name
	}
	return c.Name
}

// Source is the feed service.
type Source interface {
	Channels(ctx context.Context) ([]Channel, error)
	NewPosts(ctx context.Context, ch Channel, limit int) ([]post.Record, error)
}

// Processor runs one post through ingestion.
type Processor interface {
	Process(ctx context.Context, req ingestion.Request) (ingestion.Outcome, error)
}

// Walker performs poll passes.
type Walker struct {
	source    Source
	processor Processor
	ledger    ledger.Recorder
	limit     int
	logger    *zap.Logger
}

// NewWalker creates a Walker. A nil recorder disables the ledger.
func NewWalker(source Source, processor Processor, recorder ledger.Recorder, limit int, logger *zap.Logger) *Walker {
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		source:    source,
		processor: processor,
		ledger:    recorder,
		limit:     limit,
		logger:    logger,
	}
}

// Walk runs one pass over every channel. Failures of a single post or
// listing are logged and the pass continues; only failing to enumerate
// channels aborts it. Cancellation is honored between posts, never inside
// one.
func (w *Walker) Walk(ctx context.Context) (ledger.RunStats, error) {
	var stats ledger.RunStats

	runID, err := w.ledger.StartRun(ctx)
	if err != nil {
		w.logger.Warn("ledger start failed", zap.Error(err))
	}
	defer func() {
		if err := w.ledger.FinishRun(context.WithoutCancel(ctx), runID, stats); err != nil {
			w.logger.Warn("ledger finish failed", zap.Error(err))
		}
	}()

	channels, err := w.source.Channels(ctx)
	if err != nil {
		return stats, err
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Channels++
		log := w.logger.With(zap.String("channel", ch.String()))
		log.Info("processing channel")

		posts, err := w.source.NewPosts(ctx, ch, w.limit)
		if err != nil {
			log.Error("listing failed", zap.Error(err))
			continue
		}

		for _, rec := range posts {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			out, err := w.processor.Process(ctx, ingestion.Request{
				Record:  rec,
				Channel: ch.String(),
				RunID:   runID,
			})
			switch {
			case err != nil:
				stats.Failed++
			case out.State == ingestion.StateCommitted:
				stats.Committed++
			default:
				stats.Skipped++
			}
		}
	}

	w.logger.Info("poll pass finished",
		zap.Int("channels", stats.Channels),
		zap.Int("committed", stats.Committed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
