// Package mirror copies committed content blobs to a secondary store so the
// archive survives loss of the local disk.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/feedvault/feedvault/pkg/shard"
)

// Mirror abstracts blob storage for content files.
type Mirror interface {
	HasContent(ctx context.Context, fingerprint string) (bool, error)
	PutContent(ctx context.Context, fingerprint, srcPath string) error
}

// Key returns the object key for a fingerprint under prefix. It mirrors the
// local content layout.
func Key(prefix, fingerprint string) string {
	return path.Join(prefix, "content", filepath.ToSlash(shard.ContentPath(fingerprint)))
}

// LocalMirror implements Mirror on another local directory, e.g. a mounted
// backup volume. Also used in tests.
type LocalMirror struct {
	BaseDir string
}

// NewLocalMirror creates a LocalMirror rooted at the given directory.
func NewLocalMirror(baseDir string) *LocalMirror {
	return &LocalMirror{BaseDir: baseDir}
}

func (m *LocalMirror) path(fingerprint string) string {
	return filepath.Join(m.BaseDir, filepath.FromSlash(Key("", fingerprint)))
}

// HasContent reports whether the blob is already mirrored.
func (m *LocalMirror) HasContent(ctx context.Context, fingerprint string) (bool, error) {
	_, err := os.Stat(m.path(fingerprint))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// PutContent copies srcPath into the mirror.
func (m *LocalMirror) PutContent(ctx context.Context, fingerprint, srcPath string) error {
	dest := m.path(fingerprint)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".mirror-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", fingerprint, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
