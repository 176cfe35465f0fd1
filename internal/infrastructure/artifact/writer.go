// Package artifact stores dry-run output where humans and CI can read it:
// one change-set file per product plus one run summary, written under a
// per-run directory and optionally mirrored to an S3-compatible bucket.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/config"
)

// FileWriter implements sync.ArtifactWriter on the local filesystem. The
// writer is scoped to one run; change sets land in <dir>/<runID>/changes and
// the summary in <dir>/<runID>/summary.json.
type FileWriter struct {
	root   string
	logger *zap.Logger
}

// NewFileWriter creates the run's artifact directory under dir.
func NewFileWriter(dir, runID string, log *zap.Logger) (*FileWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact: directory not configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	root := filepath.Join(dir, sanitizeName(runID))
	if err := os.MkdirAll(filepath.Join(root, "changes"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &FileWriter{root: root, logger: log}, nil
}

// Root returns the run's artifact directory.
func (w *FileWriter) Root() string {
	return w.root
}

// WriteChangeSet stores one product's change set.
func (w *FileWriter) WriteChangeSet(_ context.Context, productNo string, data []byte) error {
	name := filepath.Join(w.root, "changes", sanitizeName(productNo)+".json")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("write change set artifact: %w", err)
	}
	w.logger.Debug("Change set artifact written",
		zap.String("product_no", productNo),
		zap.String("path", name),
	)
	return nil
}

// WriteSummary stores the run summary.
func (w *FileWriter) WriteSummary(_ context.Context, runID string, data []byte) error {
	name := filepath.Join(w.root, "summary.json")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("write summary artifact for run %s: %w", runID, err)
	}
	return nil
}

// sanitizeName makes an external identifier safe as a single path element.
// Product numbers come from the feed and are not under our control.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// NewWriter assembles the artifact sink for a run: the local file writer,
// mirrored to S3 when a bucket is configured.
func NewWriter(ctx context.Context, cfg config.ArtifactConfig, runID string, log *zap.Logger) (sync.ArtifactWriter, error) {
	files, err := NewFileWriter(cfg.Dir, runID, log)
	if err != nil {
		return nil, err
	}
	if cfg.S3Bucket == "" {
		return files, nil
	}
	mirror, err := NewS3Writer(ctx, cfg, runID, log)
	if err != nil {
		return nil, err
	}
	return NewMirroredWriter(files, mirror, log), nil
}

var _ sync.ArtifactWriter = (*FileWriter)(nil)
