package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/sync"
)

// ProductStateModel maps the per-product sync state to the product_states
// table. The snapshot is the JSON-encoded resolved product exactly as it was
// applied downstream; it is opaque to SQL, so it is stored as text and stays
// portable between the sqlite and postgres drivers.
type ProductStateModel struct {
	ProductNo string    `gorm:"primaryKey;size:128"`
	Snapshot  string    `gorm:"type:text;not null"`
	SyncedAt  time.Time `gorm:"not null;index"`
	RunID     string    `gorm:"size:64;not null"`
}

// TableName returns the table name for ProductStateModel
func (ProductStateModel) TableName() string {
	return "product_states"
}

// ToDomain converts ProductStateModel to a domain StateRecord
func (m *ProductStateModel) ToDomain() (*sync.StateRecord, error) {
	var snapshot catalog.ResolvedProduct
	if err := json.Unmarshal([]byte(m.Snapshot), &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot for product %s: %w", m.ProductNo, err)
	}
	return &sync.StateRecord{
		ProductNo: m.ProductNo,
		Snapshot:  &snapshot,
		SyncedAt:  m.SyncedAt,
		RunID:     m.RunID,
	}, nil
}

// ProductStateModelFromDomain creates a ProductStateModel from a domain StateRecord
func ProductStateModelFromDomain(record *sync.StateRecord) (*ProductStateModel, error) {
	data, err := json.Marshal(record.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot for product %s: %w", record.ProductNo, err)
	}
	return &ProductStateModel{
		ProductNo: record.ProductNo,
		Snapshot:  string(data),
		SyncedAt:  record.SyncedAt,
		RunID:     record.RunID,
	}, nil
}

// SyncRunModel maps completed run metadata to the sync_runs table. Rows are
// written only for live runs that finished without a fatal error, so the
// newest row always carries the next usable watermark.
type SyncRunModel struct {
	RunID      string    `gorm:"primaryKey;size:64"`
	Since      time.Time `gorm:"not null"`
	Watermark  time.Time `gorm:"not null"`
	Status     string    `gorm:"size:16;not null"`
	DryRun     bool      `gorm:"not null"`
	Processed  int       `gorm:"not null"`
	Changed    int       `gorm:"not null"`
	Failed     int       `gorm:"not null"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for SyncRunModel
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts SyncRunModel to a domain RunRecord
func (m *SyncRunModel) ToDomain() *sync.RunRecord {
	return &sync.RunRecord{
		RunID:      m.RunID,
		Since:      m.Since,
		Watermark:  m.Watermark,
		Status:     sync.Status(m.Status),
		DryRun:     m.DryRun,
		Processed:  m.Processed,
		Changed:    m.Changed,
		Failed:     m.Failed,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}

// SyncRunModelFromDomain creates a SyncRunModel from a domain RunRecord
func SyncRunModelFromDomain(record *sync.RunRecord) *SyncRunModel {
	return &SyncRunModel{
		RunID:      record.RunID,
		Since:      record.Since,
		Watermark:  record.Watermark,
		Status:     string(record.Status),
		DryRun:     record.DryRun,
		Processed:  record.Processed,
		Changed:    record.Changed,
		Failed:     record.Failed,
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
	}
}
