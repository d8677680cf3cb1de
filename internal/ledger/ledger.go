// Package ledger keeps an audit log of poll runs and per-post ingestion
// outcomes. The archive itself remains the source of truth for idempotency;
// the ledger only records what happened.
package ledger

import (
	"context"
	"time"
)

// Entry is the final outcome of one post.
type Entry struct {
	RunID        string
	PostID       string
	Channel      string
	State        string
	ContentCount int
	NewContent   int
	Error        string
	Duration     time.Duration
}

// RunStats summarizes a finished poll run.
type RunStats struct {
	Channels  int
	Committed int
	Skipped   int
	Failed    int
}

// Recorder persists ledger rows.
type Recorder interface {
	StartRun(ctx context.Context) (string, error)
	Record(ctx context.Context, e Entry) error
	FinishRun(ctx context.Context, runID string, stats RunStats) error
}

// Nop discards everything. Used when no ledger database is configured.
type Nop struct{}

// StartRun returns an empty run id.
func (Nop) StartRun(context.Context) (string, error) { return "", nil }

// Record does nothing.
func (Nop) Record(context.Context, Entry) error { return nil }

// FinishRun does nothing.
func (Nop) FinishRun(context.Context, string, RunStats) error { return nil }
