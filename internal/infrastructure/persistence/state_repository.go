package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/persistence/models"
)

// GormStateRepository implements sync.StateRepository using GORM. It returns
// raw storage errors; the orchestrator wraps them with the failing operation.
type GormStateRepository struct {
	db *gorm.DB
}

// NewGormStateRepository creates a new GormStateRepository
func NewGormStateRepository(db *gorm.DB) *GormStateRepository {
	return &GormStateRepository{db: db}
}

// Get returns the committed state for a product, or sync.ErrStateNotFound.
func (r *GormStateRepository) Get(ctx context.Context, productNo string) (*sync.StateRecord, error) {
	var model models.ProductStateModel
	if err := r.db.WithContext(ctx).First(&model, "product_no = ?", productNo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sync.ErrStateNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// Put commits the state for a product, replacing any prior record. The upsert
// keeps last-writer-wins semantics without a read-modify-write cycle.
func (r *GormStateRepository) Put(ctx context.Context, record *sync.StateRecord) error {
	model, err := models.ProductStateModelFromDomain(record)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_no"}},
		DoUpdates: clause.AssignmentColumns([]string{"snapshot", "synced_at", "run_id"}),
	}).Create(model).Error
}

// Delete removes the state for a product. Deleting absent state is not an
// error, so the row count is not checked.
func (r *GormStateRepository) Delete(ctx context.Context, productNo string) error {
	return r.db.WithContext(ctx).
		Delete(&models.ProductStateModel{}, "product_no = ?", productNo).Error
}

// LastWatermark returns the watermark of the most recent committed run, or
// the zero time when no run has completed yet. Only fatal-error-free live
// runs are committed, so every stored row is eligible.
func (r *GormStateRepository) LastWatermark(ctx context.Context) (time.Time, error) {
	var model models.SyncRunModel
	err := r.db.WithContext(ctx).Order("finished_at DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return model.Watermark, nil
}

// CommitRun persists the run metadata.
func (r *GormStateRepository) CommitRun(ctx context.Context, record *sync.RunRecord) error {
	return r.db.WithContext(ctx).Create(models.SyncRunModelFromDomain(record)).Error
}

var _ sync.StateRepository = (*GormStateRepository)(nil)
