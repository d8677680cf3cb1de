// Package archive implements the durable, content-addressed post archive:
// two sharded JSON indexes (post metadata and post→content relations) and a
// sharded blob area holding media under its fingerprint.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/feedvault/feedvault/pkg/shard"
)

// Kind selects one of the archive's roots.
type Kind string

const (
	KindInfo      Kind = "info"
	KindRelations Kind = "relations"
	KindContent   Kind = "content"
)

// Bucket is the decoded content of one index file.
type Bucket map[string]json.RawMessage

// CorruptIndexError reports an index bucket that exists but cannot be decoded.
// It is never recovered from by resetting the bucket.
type CorruptIndexError struct {
	Path string
	Err  error
}

func (e *CorruptIndexError) Error() string {
	return fmt.Sprintf("corrupt index bucket %s: %v", e.Path, e.Err)
}

func (e *CorruptIndexError) Unwrap() error { return e.Err }

// Store is a ShardedStore rooted at a single archive directory.
type Store struct {
	Root string
}

// NewStore creates a Store rooted at root. Roots are created lazily.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

// Dir returns the root directory for kind.
func (s *Store) Dir(kind Kind) string {
	return filepath.Join(s.Root, string(kind))
}

// BucketPath returns the index file that holds key under kind.
func (s *Store) BucketPath(kind Kind, key string) string {
	return filepath.Join(s.Dir(kind), shard.IndexPath(key))
}

// ContentPath returns where a blob with the given fingerprint is stored.
func (s *Store) ContentPath(fingerprint string) string {
	return filepath.Join(s.Dir(KindContent), shard.ContentPath(fingerprint))
}

// Exists reports whether key has an entry in the kind index. Missing shard
// directories or bucket files mean false, not an error.
func (s *Store) Exists(kind Kind, key string) (bool, error) {
	b, err := s.Bucket(kind, key)
	if err != nil {
		return false, err
	}
	_, ok := b[shard.Normalize(key)]
	return ok, nil
}

// Bucket loads the bucket addressed by key. An absent bucket is empty.
func (s *Store) Bucket(kind Kind, key string) (Bucket, error) {
	return readBucket(s.BucketPath(kind, key))
}

// Get decodes the entry for key into v. It returns false when absent.
func (s *Store) Get(kind Kind, key string, v any) (bool, error) {
	b, err := s.Bucket(kind, key)
	if err != nil {
		return false, err
	}
	raw, ok := b[shard.Normalize(key)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, &CorruptIndexError{Path: s.BucketPath(kind, key), Err: err}
	}
	return true, nil
}

// Put sets bucket[key] = value for the bucket addressed by key. The
// read-modify-write runs under an exclusive lock on the bucket so concurrent
// writers from other processes do not lose updates. The bucket is replaced
// atomically with its keys sorted.
func (s *Store) Put(kind Kind, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s entry %s: %w", kind, key, err)
	}

	path := s.BucketPath(kind, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard directory: %w", err)
	}

	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return fmt.Errorf("lock bucket %s: %w", path, err)
	}
	defer unlock()

	b, err := readBucket(path)
	if err != nil {
		return err
	}
	b[shard.Normalize(key)] = data

	return writeBucket(path, b)
}

// PlaceContent moves src to the content-addressed location for fingerprint.
// If a blob already lives there, src is removed and the stored blob is left
// untouched. placed reports whether src became the stored blob.
func (s *Store) PlaceContent(fingerprint, src string) (placed bool, err error) {
	dest := s.ContentPath(fingerprint)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("create content directory: %w", err)
	}

	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(src); err != nil {
			return false, fmt.Errorf("discard duplicate %s: %w", src, err)
		}
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", dest, err)
	}

	if err := moveFile(src, dest); err != nil {
		return false, fmt.Errorf("move %s to %s: %w", src, dest, err)
	}
	return true, nil
}

func readBucket(path string) (Bucket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bucket{}, nil
		}
		return nil, fmt.Errorf("read bucket %s: %w", path, err)
	}

	b := Bucket{}
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, &CorruptIndexError{Path: path, Err: err}
	}
	if b == nil {
		// a literal "null" file
		return nil, &CorruptIndexError{Path: path, Err: errors.New("bucket is null")}
	}
	return b, nil
}

// writeBucket writes through a temp file in the same directory and renames it
// over path, so readers never observe a partially written bucket.
func writeBucket(path string, b Bucket) error {
	// encoding/json emits map keys in sorted order.
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal bucket %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp bucket: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write bucket %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync bucket %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close bucket %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod bucket %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace bucket %s: %w", path, err)
	}
	return nil
}

// moveFile renames src to dest, falling back to copy+remove when they are on
// different filesystems (the workspace is often a tmpfs).
func moveFile(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	return os.Remove(src)
}
