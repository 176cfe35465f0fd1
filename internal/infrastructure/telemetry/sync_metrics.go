// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics provides business metrics for the synchronization engine.
// It tracks per-product outcomes, run results, and state store health.
//
// All record methods are safe to call on a nil receiver, so callers that run
// without metrics (tests, validate-mapping) do not need nil checks.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	productsTotal *Counter
	runsTotal     *Counter

	// Histogram metrics (distributions)
	productDuration *Histogram

	// Gauge metrics (point-in-time values)
	runProducts     *Gauge
	trackedProducts *Gauge
	staleProducts   *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	stateProvider StateMetricsProvider
	staleAfter    time.Duration
}

// StateMetricsProvider provides state store data for periodic metrics
// collection. This interface allows the telemetry layer to query sync state
// without depending on the persistence layer directly.
type StateMetricsProvider interface {
	// TrackedProductCount returns the number of products with a committed snapshot.
	TrackedProductCount(ctx context.Context) (int64, error)

	// StaleProductCount returns the number of products whose snapshot was last
	// committed before the given cutoff.
	StaleProductCount(ctx context.Context, olderThan time.Time) (int64, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 5 minutes
	StateProvider   StateMetricsProvider
	StaleAfter      time.Duration // Default: 48 hours
}

// NewSyncMetrics creates a new SyncMetrics instance.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 48 * time.Hour
	}

	sm := &SyncMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		stateProvider: cfg.StateProvider,
		staleAfter:    staleAfter,
	}

	var err error

	// Per-product metrics
	sm.productsTotal, err = NewCounter(
		cfg.Meter,
		"shopsync_products_total",
		"Total number of products processed, by outcome",
		"{products}",
	)
	if err != nil {
		return nil, err
	}

	sm.productDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "shopsync_product_duration_seconds",
		Description: "Per-product pipeline duration, by outcome",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	// Run metrics
	sm.runsTotal, err = NewCounter(
		cfg.Meter,
		"shopsync_runs_total",
		"Total number of sync runs, by final status",
		"{runs}",
	)
	if err != nil {
		return nil, err
	}

	sm.runProducts, err = NewGauge(
		cfg.Meter,
		"shopsync_run_products",
		"Product counts of the most recent run, by result",
		"{products}",
	)
	if err != nil {
		return nil, err
	}

	// State store gauge metrics
	sm.trackedProducts, err = NewGauge(
		cfg.Meter,
		"shopsync_tracked_products",
		"Number of products with a committed state snapshot",
		"{products}",
	)
	if err != nil {
		return nil, err
	}

	sm.staleProducts, err = NewGauge(
		cfg.Meter,
		"shopsync_stale_products",
		"Number of tracked products not committed within the staleness window",
		"{products}",
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// =============================================================================
// Product Metrics
// =============================================================================

// Product outcome values for metrics labeling. They match the per-product
// pipeline outcomes reported in the run summary.
const (
	OutcomeChanged = "changed"
	OutcomeSkipped = "skipped"
	OutcomeDeleted = "deleted"
	OutcomeFailed  = "failed"
)

// RecordProduct records one product's pipeline outcome and duration.
// This is called once per product from the sync orchestrator.
func (sm *SyncMetrics) RecordProduct(ctx context.Context, outcome string, d time.Duration) {
	if sm == nil {
		return
	}
	sm.productsTotal.Inc(ctx, AttrOutcome.String(outcome))
	sm.productDuration.RecordDuration(ctx, d, AttrOutcome.String(outcome))
}

// =============================================================================
// Run Metrics
// =============================================================================

// RecordRun records the final result of a sync run.
// This is called once at the end of each run from the sync orchestrator.
func (sm *SyncMetrics) RecordRun(ctx context.Context, status string, processed, changed, failed int) {
	if sm == nil {
		return
	}
	sm.runsTotal.Inc(ctx, AttrRunStatus.String(status))
	sm.runProducts.Record(ctx, int64(processed), AttrResult.String("processed"))
	sm.runProducts.Record(ctx, int64(changed), AttrResult.String("changed"))
	sm.runProducts.Record(ctx, int64(failed), AttrResult.String("failed"))
}

// =============================================================================
// State Store Metrics
// =============================================================================

// RecordTrackedProducts records the current number of tracked products.
// This is a gauge metric that should be updated periodically.
func (sm *SyncMetrics) RecordTrackedProducts(ctx context.Context, count int64) {
	if sm == nil {
		return
	}
	sm.trackedProducts.Record(ctx, count)
}

// RecordStaleProducts records the number of products outside the staleness window.
// This is a gauge metric that should be updated periodically.
func (sm *SyncMetrics) RecordStaleProducts(ctx context.Context, count int64) {
	if sm == nil {
		return
	}
	sm.staleProducts.Record(ctx, count)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of state store gauges.
// It collects every interval (default: 5 minutes). Runs that finish inside a
// single interval still get one collection at start. This is non-blocking;
// use Stop() to stop collection.
func (sm *SyncMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	if sm == nil {
		return
	}
	sm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go sm.runPeriodicCollection(ctx, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (sm *SyncMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	sm.collectStateMetrics(ctx)

	for {
		select {
		case <-sm.stopChan:
			sm.logger.Info("Stopping periodic sync metrics collection")
			return
		case <-ctx.Done():
			sm.logger.Info("Context cancelled, stopping periodic sync metrics collection")
			return
		case <-ticker.C:
			sm.collectStateMetrics(ctx)
		}
	}
}

// collectStateMetrics collects state store gauge metrics.
func (sm *SyncMetrics) collectStateMetrics(ctx context.Context) {
	if sm.stateProvider == nil {
		sm.logger.Debug("No state provider configured, skipping state metrics collection")
		return
	}

	tracked, err := sm.stateProvider.TrackedProductCount(ctx)
	if err != nil {
		sm.logger.Warn("Failed to count tracked products", zap.Error(err))
	} else {
		sm.RecordTrackedProducts(ctx, tracked)
	}

	stale, err := sm.stateProvider.StaleProductCount(ctx, time.Now().Add(-sm.staleAfter))
	if err != nil {
		sm.logger.Warn("Failed to count stale products", zap.Error(err))
	} else {
		sm.RecordStaleProducts(ctx, stale)
	}
}

// Stop stops the periodic collection.
func (sm *SyncMetrics) Stop() {
	if sm == nil {
		return
	}
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
