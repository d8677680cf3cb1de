package archive

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/feedvault/feedvault/pkg/fingerprint"
	"github.com/feedvault/feedvault/pkg/shard"
)

// Mismatch is a content blob whose bytes no longer hash to its path.
type Mismatch struct {
	Path     string
	Expected string
	Actual   string
}

// VerifyContent re-hashes every blob under the content root and calls
// report for each one whose fingerprint differs from its location. Temp
// files and entries outside the shard layout are reported with an empty
// Actual.
func (s *Store) VerifyContent(ctx context.Context, report func(Mismatch)) (checked int, err error) {
	root := s.Dir(KindContent)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		expected, ok := fingerprintFromPath(rel)
		if !ok {
			report(Mismatch{Path: path})
			return nil
		}

		actual, err := fingerprint.File(path)
		if err != nil {
			return err
		}
		checked++
		if actual != expected {
			report(Mismatch{Path: path, Expected: expected, Actual: actual})
		}
		return nil
	})
	return checked, err
}

// fingerprintFromPath inverts shard.ContentPath for a path relative to the
// content root.
func fingerprintFromPath(rel string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return "", false
	}
	if len(parts[0]) != shard.SegmentWidth || len(parts[1]) != shard.SegmentWidth {
		return "", false
	}
	return parts[0] + parts[1] + parts[2], true
}
