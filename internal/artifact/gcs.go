package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSMirror uploads artifacts to a GCS bucket. It assumes Application
// Default Credentials unless a credentials file is configured.
type GCSMirror struct {
	bucket string
	prefix string
	opts   []option.ClientOption
}

// NewGCSMirror creates a mirror targeting gs://<bucket>/<prefix>/.
func NewGCSMirror(bucket, prefix string, opts ...option.ClientOption) *GCSMirror {
	return &GCSMirror{bucket: bucket, prefix: prefix, opts: opts}
}

// Upload copies the local file to the bucket under the prefixed object name.
func (m *GCSMirror) Upload(ctx context.Context, localPath, objectName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("gcs mirror: open %q: %w", localPath, err)
	}
	defer f.Close()

	client, err := storage.NewClient(ctx, m.opts...)
	if err != nil {
		return fmt.Errorf("gcs mirror: create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := client.Bucket(m.bucket).Object(path.Join(m.prefix, objectName))
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs mirror: copy to writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs mirror: finalize upload: %w", err)
	}
	return nil
}
