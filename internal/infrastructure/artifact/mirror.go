package artifact

import (
	"context"

	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/domain/sync"
)

// MirroredWriter writes every artifact to a primary writer and mirrors it to
// a secondary sink. Primary failures propagate and fail the product; mirror
// failures are logged and dropped, the local copy stays the source of truth.
type MirroredWriter struct {
	primary sync.ArtifactWriter
	mirror  sync.ArtifactWriter
	logger  *zap.Logger
}

// NewMirroredWriter combines a primary writer with a best-effort mirror.
func NewMirroredWriter(primary, mirror sync.ArtifactWriter, log *zap.Logger) *MirroredWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &MirroredWriter{primary: primary, mirror: mirror, logger: log}
}

// WriteChangeSet stores the change set locally, then mirrors it.
func (w *MirroredWriter) WriteChangeSet(ctx context.Context, productNo string, data []byte) error {
	if err := w.primary.WriteChangeSet(ctx, productNo, data); err != nil {
		return err
	}
	if err := w.mirror.WriteChangeSet(ctx, productNo, data); err != nil {
		w.logger.Warn("Change set artifact not mirrored",
			zap.String("product_no", productNo),
			zap.Error(err),
		)
	}
	return nil
}

// WriteSummary stores the summary locally, then mirrors it.
func (w *MirroredWriter) WriteSummary(ctx context.Context, runID string, data []byte) error {
	if err := w.primary.WriteSummary(ctx, runID, data); err != nil {
		return err
	}
	if err := w.mirror.WriteSummary(ctx, runID, data); err != nil {
		w.logger.Warn("Summary artifact not mirrored",
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}
	return nil
}

var _ sync.ArtifactWriter = (*MirroredWriter)(nil)
