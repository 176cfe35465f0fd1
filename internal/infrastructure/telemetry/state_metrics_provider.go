// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// GormStateMetricsProvider implements StateMetricsProvider using GORM.
// It queries the product_states table directly for aggregated metrics.
type GormStateMetricsProvider struct {
	db *gorm.DB
}

// NewGormStateMetricsProvider creates a new GormStateMetricsProvider.
func NewGormStateMetricsProvider(db *gorm.DB) *GormStateMetricsProvider {
	return &GormStateMetricsProvider{db: db}
}

// TrackedProductCount returns the number of products with a committed snapshot.
func (p *GormStateMetricsProvider) TrackedProductCount(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("product_states").
		Count(&count).Error

	return count, err
}

// StaleProductCount returns the number of products whose snapshot was last
// committed before the given cutoff. A growing stale count means products
// are dropping out of feed exports while their target data lives on.
func (p *GormStateMetricsProvider) StaleProductCount(ctx context.Context, olderThan time.Time) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("product_states").
		Where("synced_at < ?", olderThan).
		Count(&count).Error

	return count, err
}
