// Package dedup moves acquired files out of the workspace into the
// content-addressed area of the archive.
package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/feedvault/feedvault/internal/archive"
	"github.com/feedvault/feedvault/pkg/fingerprint"
)

// WorkspaceNotDrainedError reports entries left in the workspace after every
// acquired file was committed. Something produced a file nobody tracked.
type WorkspaceNotDrainedError struct {
	Workspace string
	Leftover  []string
}

func (e *WorkspaceNotDrainedError) Error() string {
	return fmt.Sprintf("workspace %s not drained: %s", e.Workspace, strings.Join(e.Leftover, ", "))
}

// Placement is a fingerprinted file and whether it was new to the archive.
type Placement struct {
	Fingerprint string
	Placed      bool
}

// Deduplicator fingerprints workspace files and places them in the store.
type Deduplicator struct {
	store  *archive.Store
	logger *zap.Logger
}

// New creates a Deduplicator writing into store.
func New(store *archive.Store, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{store: store, logger: logger}
}

// Commit fingerprints each named file in workspace, in order, and moves it
// to its content-addressed location (discarding it when that content is
// already stored). The workspace must be empty afterwards.
func (d *Deduplicator) Commit(workspace string, files []string) ([]Placement, error) {
	out := make([]Placement, 0, len(files))
	for _, name := range files {
		src := filepath.Join(workspace, name)

		fp, err := fingerprint.File(src)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", name, err)
		}

		placed, err := d.store.PlaceContent(fp, src)
		if err != nil {
			return nil, fmt.Errorf("place %s: %w", name, err)
		}
		d.logger.Debug("content committed",
			zap.String("file", name),
			zap.String("fingerprint", fp),
			zap.Bool("new", placed),
		)
		out = append(out, Placement{Fingerprint: fp, Placed: placed})
	}

	if err := CheckDrained(workspace); err != nil {
		return nil, err
	}
	return out, nil
}

// Fingerprints extracts the fingerprint list from placements.
func Fingerprints(ps []Placement) []string {
	fps := make([]string, len(ps))
	for i, p := range ps {
		fps[i] = p.Fingerprint
	}
	return fps
}

// CheckDrained returns a *WorkspaceNotDrainedError if workspace has entries.
func CheckDrained(workspace string) error {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return fmt.Errorf("list workspace: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return &WorkspaceNotDrainedError{Workspace: workspace, Leftover: names}
}
