package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/billing-recon/internal/logger"
)

// Store writes timestamp-named pipeline artifacts (CSV outputs and text
// reports) under a local root and optionally mirrors them to GCS. Artifacts
// are never overwritten: concurrent runs produce distinct names.
type Store struct {
	root   string
	mirror Mirror
}

// Mirror pushes a finished local artifact to remote storage.
type Mirror interface {
	Upload(ctx context.Context, localPath, objectName string) error
}

// NewStore creates a store rooted at dir. mirror may be nil.
func NewStore(dir string, mirror Mirror) *Store {
	return &Store{root: dir, mirror: mirror}
}

// Timestamp is the artifact-name timestamp format shared by every stage.
const Timestamp = "20060102_150405"

// Write stores content under <root>/<subdir>/<prefix>_<timestamp><ext> and
// returns the full path.
func (s *Store) Write(ctx context.Context, subdir, prefix, ext string, content []byte) (string, error) {
	name := fmt.Sprintf("%s_%s%s", prefix, time.Now().Format(Timestamp), ext)
	return s.WriteNamed(ctx, subdir, name, content)
}

// WriteNamed stores content under an explicit file name.
func (s *Store) WriteNamed(ctx context.Context, subdir, name string, content []byte) (string, error) {
	dir := filepath.Join(s.root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write %s: %w", path, err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("path", path).Msg("artifact written")

	s.mirrorOut(ctx, log, path, filepath.ToSlash(filepath.Join(subdir, name)))
	return path, nil
}

// mirrorOut uploads best-effort: a failed mirror never fails the run, the
// local artifact is authoritative.
func (s *Store) mirrorOut(ctx context.Context, log zerolog.Logger, localPath, objectName string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Upload(ctx, localPath, objectName); err != nil {
		log.Warn().Err(err).Str("object", objectName).Msg("artifact mirror failed")
		return
	}
	log.Info().Str("object", objectName).Msg("artifact mirrored")
}
