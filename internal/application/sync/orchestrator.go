// Package sync drives the per-product synchronization pipeline: pull changed
// records from the feed, resolve them through the mapping, diff against the
// last committed state and either record the change sets as dry-run artifacts
// or apply them downstream in order.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/mapping"
	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/logger"
	"github.com/erp/shopsync/internal/infrastructure/telemetry"
)

// defaultWorkers bounds per-product parallelism when no worker count is
// configured.
const defaultWorkers = 4

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// Options wires the orchestrator's collaborators.
type Options struct {
	Spec      *mapping.Spec
	Resolver  *mapping.Resolver
	Feed      sync.ProductFeed
	Target    sync.Target
	States    sync.StateRepository
	Media     sync.MediaFetcher
	Artifacts sync.ArtifactWriter
	Metrics   *telemetry.SyncMetrics
	Logger    *zap.Logger

	// Workers bounds how many products are processed concurrently.
	Workers int
}

// Orchestrator runs the synchronization pipeline for one run at a time.
// Products are independent units of work processed with bounded parallelism;
// all shared inputs are immutable and per-product state writes are serialized
// by the state repository.
type Orchestrator struct {
	spec      *mapping.Spec
	resolver  *mapping.Resolver
	feed      sync.ProductFeed
	target    sync.Target
	states    sync.StateRepository
	media     sync.MediaFetcher
	artifacts sync.ArtifactWriter
	metrics   *telemetry.SyncMetrics
	logger    *zap.Logger
	workers   int
}

// NewOrchestrator validates the wiring and builds an orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Spec == nil {
		return nil, errors.New("sync: orchestrator requires a mapping spec")
	}
	if opts.Resolver == nil {
		return nil, errors.New("sync: orchestrator requires a resolver")
	}
	if opts.Feed == nil {
		return nil, errors.New("sync: orchestrator requires a product feed")
	}
	if opts.States == nil {
		return nil, errors.New("sync: orchestrator requires a state repository")
	}
	if opts.Target == nil {
		return nil, errors.New("sync: orchestrator requires a target")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		spec:      opts.Spec,
		resolver:  opts.Resolver,
		feed:      opts.Feed,
		target:    opts.Target,
		states:    opts.States,
		media:     opts.Media,
		artifacts: opts.Artifacts,
		metrics:   opts.Metrics,
		logger:    log,
		workers:   workers,
	}, nil
}

// productResult is one product's outcome, sent from a worker to the
// aggregation loop.
type productResult struct {
	productNo string
	changed   bool
	skipped   bool
	deleted   bool
	warnings  int
	failure   *sync.Failure
}

// Run executes one synchronization run and returns its summary. Per-product
// failures are collected in the summary and never abort the run; the returned
// error is non-nil only for fatal problems (feed drain failure, cancellation,
// run metadata commit failure).
func (o *Orchestrator) Run(ctx context.Context, rc sync.RunContext) (*sync.RunSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.run")
	defer span.End()
	telemetry.SetAttributes(ctx,
		attribute.String("run.id", rc.RunID),
		attribute.Bool("run.dry_run", rc.DryRun),
	)

	log := logger.WithTraceContext(ctx, o.logger.With(zap.String("run_id", rc.RunID), zap.Bool("dry_run", rc.DryRun)))
	log.Info("sync run started",
		zap.Time("since", rc.Since),
		zap.String("product_no", rc.ProductNo),
		zap.Int("limit", rc.Limit),
		zap.Int("workers", o.workers),
	)

	summary := &sync.RunSummary{
		RunID:     rc.RunID,
		Status:    sync.StatusRunning,
		DryRun:    rc.DryRun,
		TraceID:   telemetry.GetTraceID(ctx),
		StartedAt: rc.StartedAt,
	}

	if rc.DryRun && o.artifacts == nil {
		err := errors.New("sync: dry-run requires an artifact writer")
		summary.FatalError = err.Error()
		summary.Complete()
		return summary, err
	}

	products, err := o.drain(ctx, rc)
	if err != nil {
		telemetry.RecordError(ctx, err)
		summary.FatalError = err.Error()
		summary.Complete()
		log.Error("feed drain failed, aborting run", zap.Error(err))
		return summary, err
	}
	log.Info("feed drained", zap.Int("products", len(products)))

	results := make(chan productResult, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, src := range products {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results <- o.processProduct(gctx, rc, src)
			return nil
		})
	}
	runErr := g.Wait()
	close(results)

	for res := range results {
		summary.Processed++
		summary.Warnings += res.warnings
		switch {
		case res.failure != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, *res.failure)
		case res.deleted:
			summary.Deleted++
		case res.skipped:
			summary.Skipped++
		case res.changed:
			summary.Changed++
		}
	}

	summary.Complete()
	if runErr != nil {
		summary.Status = sync.StatusCancelled
		summary.FatalError = runErr.Error()
		log.Warn("sync run cancelled; committed products stay committed", zap.Error(runErr))
		return summary, runErr
	}

	if rc.DryRun {
		o.writeSummaryArtifact(ctx, rc, summary, log)
	} else if err := o.commitRunMetadata(ctx, rc, summary); err != nil {
		summary.FatalError = err.Error()
		summary.Status = sync.StatusFailed
		log.Error("run metadata commit failed; watermark not advanced", zap.Error(err))
		return summary, err
	}

	o.metrics.RecordRun(ctx, summary.Status.String(), summary.Processed, summary.Changed, summary.Failed)
	log.Info("sync run finished",
		zap.String("status", summary.Status.String()),
		zap.Int("processed", summary.Processed),
		zap.Int("changed", summary.Changed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failed", summary.Failed),
		zap.Int("warnings", summary.Warnings),
	)
	return summary, nil
}

// drain pulls the run's product set from the feed up front. The set is
// finite and known at start; the limit caps it. A pull failure aborts the
// run: processing a partial set would silently narrow the run's scope.
func (o *Orchestrator) drain(ctx context.Context, rc sync.RunContext) ([]*catalog.SourceProduct, error) {
	it, err := o.feed.Export(ctx, sync.FeedQuery{
		Since:          rc.Since,
		ProductNo:      rc.ProductNo,
		IncludeDeleted: true,
	})
	if err != nil {
		return nil, &sync.FetchError{Err: err}
	}
	defer it.Close()

	var products []*catalog.SourceProduct
	for rc.Limit == 0 || len(products) < rc.Limit {
		src, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &sync.FetchError{Err: err}
		}
		products = append(products, src)
	}
	return products, nil
}

// processProduct runs the pipeline for one product. It never returns an
// error: all outcomes, including failures, are expressed in the result.
func (o *Orchestrator) processProduct(ctx context.Context, rc sync.RunContext, src *catalog.SourceProduct) productResult {
	ctx, span := telemetry.StartSpan(ctx, "sync.product")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("product.no", src.ProductNo))

	start := time.Now()
	log := logger.WithTraceContext(ctx, o.logger.With(zap.String("run_id", rc.RunID), zap.String("product_no", src.ProductNo)))

	res := o.pipeline(ctx, rc, src, log)
	if res.failure != nil {
		telemetry.RecordError(ctx, errors.New(res.failure.Cause))
		log.Error("product failed",
			zap.String("stage", string(res.failure.Stage)),
			zap.String("cause", res.failure.Cause),
		)
	}
	o.metrics.RecordProduct(ctx, outcomeOf(res), time.Since(start))
	return res
}

func outcomeOf(res productResult) string {
	switch {
	case res.failure != nil:
		return "failed"
	case res.deleted:
		return "deleted"
	case res.skipped:
		return "skipped"
	default:
		return "changed"
	}
}

func (o *Orchestrator) pipeline(ctx context.Context, rc sync.RunContext, src *catalog.SourceProduct, log *zap.Logger) productResult {
	res := productResult{productNo: src.ProductNo}

	if src.IsDeletion() {
		return o.processDeletion(ctx, rc, src)
	}

	resolved, err := o.resolver.Resolve(ctx, src)
	if err != nil {
		res.failure = &sync.Failure{ProductNo: src.ProductNo, Stage: sync.StageResolve, Cause: err.Error()}
		return res
	}
	res.warnings = len(resolved.Warnings)
	for _, w := range resolved.Warnings {
		log.Warn("field excluded from resolution",
			zap.String("field", w.Field),
			zap.String("culture", w.Culture),
			zap.String("reason", w.Message),
		)
	}

	prior, err := o.priorSnapshot(ctx, src.ProductNo)
	if err != nil {
		res.failure = &sync.Failure{ProductNo: src.ProductNo, Stage: sync.StageState, Cause: err.Error()}
		return res
	}

	cs := sync.Diff(resolved, prior)
	if cs.IsEmpty() {
		res.skipped = true
		log.Debug("no changes, skipping downstream calls")
		return res
	}
	log.Info("changes detected", zap.Int("ops", cs.Ops()))

	if rc.DryRun {
		if failure := o.writeChangeSetArtifact(ctx, cs); failure != nil {
			res.failure = failure
			return res
		}
		res.changed = true
		return res
	}

	if stage, err := o.apply(ctx, src, cs); err != nil {
		res.failure = &sync.Failure{ProductNo: src.ProductNo, Stage: stage, Cause: err.Error()}
		return res
	}

	record := &sync.StateRecord{
		ProductNo: src.ProductNo,
		Snapshot:  resolved,
		SyncedAt:  time.Now().UTC(),
		RunID:     rc.RunID,
	}
	if err := o.states.Put(ctx, record); err != nil {
		serr := &sync.StateStoreError{Op: "put", Err: err}
		res.failure = &sync.Failure{ProductNo: src.ProductNo, Stage: sync.StageState, Cause: serr.Error()}
		return res
	}

	res.changed = true
	return res
}

// processDeletion removes a product downstream and drops its state. A
// deletion for a product that was never committed is a no-op.
func (o *Orchestrator) processDeletion(ctx context.Context, rc sync.RunContext, src *catalog.SourceProduct) productResult {
	res := productResult{productNo: src.ProductNo}

	prior, err := o.priorSnapshot(ctx, src.ProductNo)
	if err != nil {
		res.failure = &sync.Failure{ProductNo: src.ProductNo, Stage: sync.StageState, Cause: err.Error()}
		return res
	}
	if prior == nil {
		res.skipped = true
		return res
	}

	if rc.DryRun {
		if failure := o.writeChangeSetArtifact(ctx, sync.DeletionChangeSet(src.ProductNo)); failure != nil {
			res.failure = failure
			return res
		}
		res.deleted = true
		return res
	}

	if err := o.target.DeleteProduct(ctx, src.ProductNo); err != nil {
		werr := &sync.WriteError{ProductNo: src.ProductNo, Operation: "delete", Err: err}
		res.failure = &sync.Failure{ProductNo: src.ProductNo, Stage: sync.StageDelete, Cause: werr.Error()}
		return res
	}
	if err := o.states.Delete(ctx, src.ProductNo); err != nil {
		serr := &sync.StateStoreError{Op: "delete", Err: err}
		res.failure = &sync.Failure{ProductNo: src.ProductNo, Stage: sync.StageState, Cause: serr.Error()}
		return res
	}

	res.deleted = true
	return res
}

// priorSnapshot loads the last committed snapshot, mapping "not found" to a
// nil snapshot.
func (o *Orchestrator) priorSnapshot(ctx context.Context, productNo string) (*catalog.ResolvedProduct, error) {
	record, err := o.states.Get(ctx, productNo)
	if errors.Is(err, sync.ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &sync.StateStoreError{Op: "get", Err: err}
	}
	return record.Snapshot, nil
}

func (o *Orchestrator) writeChangeSetArtifact(ctx context.Context, cs *sync.ChangeSet) *sync.Failure {
	data, err := cs.Marshal()
	if err == nil {
		err = o.artifacts.WriteChangeSet(ctx, cs.ProductNo, data)
	}
	if err != nil {
		return &sync.Failure{ProductNo: cs.ProductNo, Stage: sync.StageArtifact, Cause: err.Error()}
	}
	return nil
}

func (o *Orchestrator) writeSummaryArtifact(ctx context.Context, rc sync.RunContext, summary *sync.RunSummary, log *zap.Logger) {
	if o.artifacts == nil {
		return
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		err = o.artifacts.WriteSummary(ctx, rc.RunID, append(data, '\n'))
	}
	if err != nil {
		log.Warn("run summary artifact not written", zap.Error(err))
	}
}

// commitRunMetadata advances the watermark to the run start. Only called for
// live runs that finished without a fatal error.
func (o *Orchestrator) commitRunMetadata(ctx context.Context, rc sync.RunContext, summary *sync.RunSummary) error {
	record := &sync.RunRecord{
		RunID:      rc.RunID,
		Since:      rc.Since,
		Watermark:  rc.StartedAt,
		Status:     summary.Status,
		DryRun:     rc.DryRun,
		Processed:  summary.Processed,
		Changed:    summary.Changed,
		Failed:     summary.Failed,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
	}
	if err := o.states.CommitRun(ctx, record); err != nil {
		return &sync.StateStoreError{Op: "commit run", Err: err}
	}
	return nil
}

// ResolveSince decides the run's lower bound: an explicit since wins, else
// the stored watermark. Neither present is a configuration error because a
// full export would be mistaken for an incremental one.
func ResolveSince(ctx context.Context, states sync.StateRepository, explicit time.Time) (time.Time, error) {
	if !explicit.IsZero() {
		return explicit, nil
	}
	watermark, err := states.LastWatermark(ctx)
	if err != nil {
		return time.Time{}, &sync.StateStoreError{Op: "last watermark", Err: err}
	}
	if watermark.IsZero() {
		return time.Time{}, fmt.Errorf("sync: no --since given and no watermark from a previous run")
	}
	return watermark, nil
}
