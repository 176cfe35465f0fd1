package sync

import (
	"context"
	"errors"
	"time"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// ErrStateNotFound is returned when no state has been committed for a
// product identity yet.
var ErrStateNotFound = errors.New("sync: no state recorded for product")

// ---------------------------------------------------------------------------
// StateRecord
// ---------------------------------------------------------------------------

// StateRecord is the last successfully applied snapshot of one product. It is
// written only after every downstream call for the product succeeded; a
// partial failure leaves the prior record untouched so the next run
// recomputes the full diff and retries everything.
type StateRecord struct {
	// ProductNo is the stable product identity.
	ProductNo string

	// Snapshot is the resolved product as it was applied downstream.
	Snapshot *catalog.ResolvedProduct

	// SyncedAt is when the snapshot was committed.
	SyncedAt time.Time

	// RunID identifies the run that committed the snapshot.
	RunID string
}

// RunRecord is the persisted metadata of one completed run. Its watermark
// becomes the next run's default since lower bound; it only advances when the
// run finished without a fatal error, so a crashed run re-uses the same bound.
type RunRecord struct {
	RunID string

	// Since is the lower bound the run pulled changes from.
	Since time.Time

	// Watermark is the new lower bound for the next run.
	Watermark time.Time

	Status    Status
	DryRun    bool
	Processed int
	Changed   int
	Failed    int

	StartedAt  time.Time
	FinishedAt time.Time
}

// ---------------------------------------------------------------------------
// StateRepository
// ---------------------------------------------------------------------------

// StateRepository persists per-product state and run metadata. Writes are
// last-writer-wins per product identity; implementations must serialize
// writes for the same identity so concurrent workers cannot interleave
// partial commits. No cross-product transaction is offered or needed.
type StateRepository interface {
	// Get returns the committed state for a product, or ErrStateNotFound.
	Get(ctx context.Context, productNo string) (*StateRecord, error)

	// Put commits the state for a product, replacing any prior record.
	Put(ctx context.Context, record *StateRecord) error

	// Delete removes the state for a product that was deleted downstream.
	// Deleting absent state is not an error.
	Delete(ctx context.Context, productNo string) error

	// LastWatermark returns the watermark of the most recent fatal-error-free
	// run, or the zero time when no run has completed yet.
	LastWatermark(ctx context.Context) (time.Time, error)

	// CommitRun persists the run metadata. The orchestrator calls it only
	// when the run finished without a fatal error.
	CommitRun(ctx context.Context, record *RunRecord) error
}
