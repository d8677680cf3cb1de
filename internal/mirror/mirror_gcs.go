package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
)

// GCSMirror implements Mirror using Google Cloud Storage.
type GCSMirror struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSMirror creates a GCS-backed Mirror.
// It uses Application Default Credentials (works with Workload Identity, SA keys, gcloud auth).
func NewGCSMirror(ctx context.Context, bucket, prefix string) (*GCSMirror, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSMirror{client: client, bucket: bucket, prefix: prefix}, nil
}

// HasContent checks the blob's object attributes.
func (m *GCSMirror) HasContent(ctx context.Context, fingerprint string) (bool, error) {
	key := Key(m.prefix, fingerprint)
	_, err := m.client.Bucket(m.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs %s: %w", key, err)
}

// PutContent streams srcPath into the blob's object.
func (m *GCSMirror) PutContent(ctx context.Context, fingerprint, srcPath string) error {
	key := Key(m.prefix, fingerprint)

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := m.client.Bucket(m.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

// Close releases the client.
func (m *GCSMirror) Close() error {
	return m.client.Close()
}
