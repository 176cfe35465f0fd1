// Command shopsync pushes mapped product data from the feed export into the
// shop platform. Three commands cover the operator workflow: validate-mapping
// checks the mapping document without touching the network, discover-mapping
// samples the feed for fields the document does not cover yet, and sync runs
// one pass of the pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/erp/shopsync/internal/application/discovery"
	appsync "github.com/erp/shopsync/internal/application/sync"
	"github.com/erp/shopsync/internal/domain/mapping"
	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/artifact"
	"github.com/erp/shopsync/internal/infrastructure/cache"
	"github.com/erp/shopsync/internal/infrastructure/config"
	"github.com/erp/shopsync/internal/infrastructure/feed"
	"github.com/erp/shopsync/internal/infrastructure/logger"
	"github.com/erp/shopsync/internal/infrastructure/persistence"
	"github.com/erp/shopsync/internal/infrastructure/target"
	"github.com/erp/shopsync/internal/infrastructure/telemetry"
	"github.com/erp/shopsync/internal/infrastructure/transport"
)

// Exit codes. Zero means no per-product failures; a dry run that only found
// diffs still exits zero.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		mappingPath string
		sinceArg    string
		productNo   string
		limit       int
		dryRun      bool
		logLevel    string
	)

	flag.StringVar(&configPath, "config", "", "Config file path (default: search ., ./config, /etc/shopsync)")
	flag.StringVar(&mappingPath, "mapping", "", "Mapping document path (overrides the configured one)")
	flag.StringVar(&sinceArg, "since", "", "Lower bound for feed changes, RFC3339; sync falls back to the stored watermark")
	flag.StringVar(&productNo, "productNo", "", "Restrict the run to a single product")
	flag.IntVar(&limit, "limit", 0, "Cap the number of processed products; 0 means no cap")
	flag.BoolVar(&dryRun, "dry-run", false, "Record change sets as artifacts instead of writing to the target")
	flag.StringVar(&logLevel, "log-level", "", "Override the configured log level")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		printUsage()
		return exitUsage
	}
	command := args[0]

	var since time.Time
	if sinceArg != "" {
		parsed, err := time.Parse(time.RFC3339, sinceArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -since value %q: want RFC3339, e.g. 2025-11-01T00:00:00Z\n", sinceArg)
			return exitUsage
		}
		since = parsed.UTC()
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitUsage
	}
	if mappingPath != "" {
		cfg.Mapping.Path = mappingPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	// A signal cancels the in-flight run; products already committed stay
	// committed and the watermark is not advanced.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Warn("Signal received, cancelling run", zap.String("signal", sig.String()))
		cancel()
	}()

	switch command {
	case "validate-mapping":
		return runValidateMapping(cfg, log)
	case "discover-mapping":
		return runDiscoverMapping(ctx, cfg, since, productNo, log)
	case "sync":
		return runSync(ctx, cfg, since, productNo, limit, dryRun, log)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", command)
		printUsage()
		return exitUsage
	}
}

// runValidateMapping loads the mapping document and reports every violation,
// not just the first.
func runValidateMapping(cfg *config.Config, log *zap.Logger) int {
	spec, err := mapping.Load(cfg.Mapping.Path)
	if err != nil {
		if ve, ok := mapping.AsValidationError(err); ok {
			log.Error("Mapping document is invalid",
				zap.String("path", cfg.Mapping.Path),
				zap.Int("violations", len(ve.Violations)))
			for _, v := range ve.Violations {
				fmt.Fprintf(os.Stderr, "  %s\n", v.String())
			}
			return exitFailure
		}
		log.Error("Failed to load mapping document",
			zap.String("path", cfg.Mapping.Path), zap.Error(err))
		return exitFailure
	}

	log.Info("Mapping document is valid",
		zap.String("path", cfg.Mapping.Path),
		zap.Int("cultures", len(spec.Cultures)),
		zap.Int("field_rules", len(spec.Rules)),
		zap.Int("price_rules", len(spec.PriceRules)),
		zap.Bool("images", spec.ImagesEnabled))
	return exitOK
}

// runDiscoverMapping samples changed products and writes suggested mapping
// entries next to the active mapping document.
func runDiscoverMapping(ctx context.Context, cfg *config.Config, since time.Time, productNo string, log *zap.Logger) int {
	if since.IsZero() {
		fmt.Fprintln(os.Stderr, "discover-mapping requires -since")
		return exitUsage
	}

	spec, err := mapping.Load(cfg.Mapping.Path)
	if err != nil {
		log.Error("Failed to load mapping document",
			zap.String("path", cfg.Mapping.Path), zap.Error(err))
		return exitFailure
	}
	feedClient, err := newFeedClient(cfg, log)
	if err != nil {
		log.Error("Failed to create feed client", zap.Error(err))
		return exitFailure
	}
	svc, err := discovery.NewService(discovery.Options{
		Spec:   spec,
		Feed:   feedClient,
		Logger: log,
	})
	if err != nil {
		log.Error("Failed to create discovery service", zap.Error(err))
		return exitFailure
	}

	report, err := svc.Discover(ctx, discovery.Query{Since: since, ProductNo: productNo})
	if err != nil {
		log.Error("Discovery failed", zap.Error(err))
		return exitFailure
	}
	if report.Empty() {
		log.Info("Sample contains no unmapped fields", zap.Int("sampled", report.Sampled))
		return exitOK
	}

	outPath := suggestionsPath(cfg.Mapping.Path)
	out, err := os.Create(outPath)
	if err != nil {
		log.Error("Failed to create suggestions file",
			zap.String("path", outPath), zap.Error(err))
		return exitFailure
	}
	defer out.Close()
	if err := report.WriteYAML(out); err != nil {
		log.Error("Failed to write suggestions",
			zap.String("path", outPath), zap.Error(err))
		return exitFailure
	}

	log.Info("Mapping suggestions written",
		zap.String("path", outPath),
		zap.Int("sampled", report.Sampled),
		zap.Int("attributes", len(report.Attributes)),
		zap.Int("texts", len(report.Texts)))
	return exitOK
}

// runSync wires the full pipeline and executes one pass.
func runSync(ctx context.Context, cfg *config.Config, since time.Time, productNo string, limit int, dryRun bool, log *zap.Logger) int {
	// Telemetry first, so everything below shares its providers.
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Error("Failed to initialize tracing", zap.Error(err))
		return exitFailure
	}
	defer shutdownProvider(tracerProvider.Shutdown, "tracer", log)

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Error("Failed to initialize metrics", zap.Error(err))
		return exitFailure
	}
	defer shutdownProvider(meterProvider.Shutdown, "meter", log)

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Error("Failed to initialize log export", zap.Error(err))
		return exitFailure
	}
	defer shutdownProvider(loggerProvider.Shutdown, "logger", log)

	if loggerProvider.IsEnabled() {
		otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			LoggerProvider: loggerProvider,
			Level:          zapcore.InfoLevel,
		})
		log = telemetry.NewBridgedLogger(log.Core(), otelCore)
	}

	if cfg.Telemetry.ProfilingEnabled {
		profCfg := telemetry.ProfilerConfig{
			Enabled:         true,
			ServerAddress:   cfg.Telemetry.ProfilingServer,
			ApplicationName: cfg.Telemetry.ServiceName,
		}
		telemetry.DefaultProfileTypes(&profCfg)
		profiler, err := telemetry.NewProfiler(profCfg, log)
		if err != nil {
			log.Warn("Continuous profiling unavailable", zap.Error(err))
		} else {
			defer func() {
				if err := profiler.Stop(); err != nil {
					log.Warn("Error stopping profiler", zap.Error(err))
				}
			}()
			if err := tracerProvider.EnableSpanProfiles(); err != nil {
				log.Warn("Span profiles unavailable", zap.Error(err))
			}
		}
	}

	// The mapping document gates the run; a broken document aborts before
	// any product is touched.
	spec, err := mapping.Load(cfg.Mapping.Path)
	if err != nil {
		log.Error("Mapping document rejected",
			zap.String("path", cfg.Mapping.Path), zap.Error(err))
		return exitFailure
	}

	db, err := persistence.NewDatabase(cfg, log)
	if err != nil {
		log.Error("Failed to open state store", zap.Error(err))
		return exitFailure
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing state store", zap.Error(err))
		}
	}()

	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfig{
		Enabled:            cfg.Telemetry.Enabled,
		Driver:             db.Driver(),
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		log.Warn("State store metrics unavailable", zap.Error(err))
	} else if dbMetrics != nil {
		defer dbMetrics.Stop()
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		tracingCfg := telemetry.DefaultDBTracingConfig(db.Driver())
		tracingCfg.Enabled = true
		tracingCfg.LogFullSQL = cfg.Telemetry.DBLogFullSQL
		if cfg.Telemetry.DBSlowQueryThresh > 0 {
			tracingCfg.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
		}
		if err := telemetry.NewDBTracingPlugin(tracingCfg, log).RegisterOtelGorm(db.DB); err != nil {
			log.Warn("State store tracing unavailable", zap.Error(err))
		}
	}

	states := persistence.NewGormStateRepository(db.DB)

	resolvedSince, err := appsync.ResolveSince(ctx, states, since)
	if err != nil {
		var storeErr *sync.StateStoreError
		if errors.As(err, &storeErr) {
			log.Error("Failed to read the stored watermark", zap.Error(err))
			return exitFailure
		}
		fmt.Fprintln(os.Stderr, "No stored watermark yet; pass -since for the first run")
		return exitUsage
	}

	feedClient, err := newFeedClient(cfg, log)
	if err != nil {
		log.Error("Failed to create feed client", zap.Error(err))
		return exitFailure
	}
	targetClient, err := target.NewClient(target.Config{
		Endpoint:   cfg.Target.Endpoint,
		Username:   cfg.Target.Username,
		Password:   cfg.Target.Password,
		ShopID:     cfg.Target.ShopID,
		TemplateID: cfg.Target.TemplateID,
		Timeout:    cfg.HTTP.Timeout,
		Retry:      retryPolicy(cfg),
	}, log)
	if err != nil {
		log.Error("Failed to create target client", zap.Error(err))
		return exitFailure
	}

	fpCache, err := cache.NewFingerprintCacheFactory(cfg.Redis, cache.WithLogger(log)).CreateCache()
	if err != nil {
		log.Error("Failed to create fingerprint cache", zap.Error(err))
		return exitFailure
	}
	if closer, ok := fpCache.(io.Closer); ok {
		defer closer.Close()
	}

	fingerprinter := feed.NewFingerprinter(feedClient, fpCache, log)
	resolver := mapping.NewResolver(spec, fingerprinter)

	rc := sync.NewRunContext(resolvedSince, productNo, limit, dryRun)
	ctx = logger.WithRunID(ctx, rc.RunID)

	var artifacts sync.ArtifactWriter
	if dryRun {
		artifacts, err = artifact.NewWriter(ctx, cfg.Artifact, rc.RunID, log)
		if err != nil {
			log.Error("Failed to prepare the artifact sink", zap.Error(err))
			return exitFailure
		}
	}

	var syncMetrics *telemetry.SyncMetrics
	if meterProvider.IsEnabled() {
		syncMetrics, err = telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
			Meter:         meterProvider.Meter("sync"),
			Logger:        log,
			StateProvider: telemetry.NewGormStateMetricsProvider(db.DB),
		})
		if err != nil {
			log.Warn("Sync metrics unavailable", zap.Error(err))
		} else {
			syncMetrics.StartPeriodicCollection(ctx, 0)
			defer syncMetrics.Stop()
		}
	}

	orch, err := appsync.NewOrchestrator(appsync.Options{
		Spec:      spec,
		Resolver:  resolver,
		Feed:      feedClient,
		Target:    targetClient,
		States:    states,
		Media:     feedClient,
		Artifacts: artifacts,
		Metrics:   syncMetrics,
		Logger:    log,
		Workers:   cfg.Sync.Workers,
	})
	if err != nil {
		log.Error("Failed to assemble the pipeline", zap.Error(err))
		return exitFailure
	}

	var (
		summary *sync.RunSummary
		runErr  error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.RunLabels("sync", db.Driver()), func(ctx context.Context) {
		summary, runErr = orch.Run(ctx, rc)
	})
	if summary != nil {
		printSummary(summary)
	}
	if runErr != nil {
		log.Error("Run aborted", zap.Error(runErr))
		return exitFailure
	}
	if summary.HasFailures() {
		return exitFailure
	}
	return exitOK
}

func newFeedClient(cfg *config.Config, log *zap.Logger) (*feed.Client, error) {
	return feed.NewClient(feed.Config{
		TokenURL:     cfg.Feed.TokenURL,
		ClientID:     cfg.Feed.ClientID,
		ClientSecret: cfg.Feed.ClientSecret,
		ExportURL:    cfg.Feed.ExportURL,
		PageSize:     cfg.Feed.PageSize,
		Language:     cfg.Feed.Language,
		Timeout:      cfg.HTTP.Timeout,
		Retry:        retryPolicy(cfg),
	}, log)
}

func retryPolicy(cfg *config.Config) transport.RetryPolicy {
	return transport.RetryPolicy{
		MaxRetries: cfg.HTTP.RetryCount,
		BaseDelay:  cfg.HTTP.RetryBackoff,
	}
}

// suggestionsPath derives the discovery output file from the mapping path:
// mappings/mapping.yaml becomes mappings/mapping.suggestions.yaml.
func suggestionsPath(mappingPath string) string {
	ext := filepath.Ext(mappingPath)
	base := strings.TrimSuffix(mappingPath, ext)
	if ext == "" {
		ext = ".yaml"
	}
	return base + ".suggestions" + ext
}

// printSummary writes the run outcome to stdout, one line per failed product,
// so operators get the result without grepping logs.
func printSummary(s *sync.RunSummary) {
	mode := "sync"
	if s.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("%s %s: %s processed=%d changed=%d skipped=%d deleted=%d failed=%d warnings=%d\n",
		mode, s.RunID, s.Status, s.Processed, s.Changed, s.Skipped, s.Deleted, s.Failed, s.Warnings)
	for _, f := range s.Failures {
		fmt.Printf("  failed %s at %s: %s\n", f.ProductNo, f.Stage, f.Cause)
	}
	if s.FatalError != "" {
		fmt.Printf("  fatal: %s\n", s.FatalError)
	}
}

// shutdownProvider flushes one telemetry provider with a bounded deadline.
// The run context may already be cancelled, so it gets a fresh one.
func shutdownProvider(shutdown func(context.Context) error, name string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn("Telemetry shutdown incomplete",
			zap.String("provider", name), zap.Error(err))
	}
}

func printUsage() {
	fmt.Println(`Product Data Synchronization

Usage:
  shopsync [flags] <command>

Commands:
  validate-mapping   Load the mapping document and report every violation
  discover-mapping   Sample the feed and suggest entries for unmapped fields
  sync               Run one synchronization pass against the shop platform

Flags:
  -config string     Config file path (default: search ., ./config, /etc/shopsync)
  -mapping string    Mapping document path (overrides the configured one)
  -since string      Lower bound for feed changes, RFC3339; sync falls back to the stored watermark
  -productNo string  Restrict the run to a single product
  -limit int         Cap the number of processed products (sync only)
  -dry-run           Record change sets as artifacts instead of writing to the target (sync only)
  -log-level string  Override the configured log level

Exit status:
  0  no per-product failures
  1  at least one product failed, or the run aborted
  2  invalid invocation or configuration

Examples:
  # Validate the mapping before deploying it
  shopsync -mapping mappings/mapping.yaml validate-mapping

  # Preview everything changed since November 1st without writing
  shopsync -since 2025-11-01T00:00:00Z -dry-run sync

  # Push a single product end to end
  shopsync -since 2025-11-01T00:00:00Z -productNo 1092-10 sync

Every config key can also be set through the environment with the
SHOPSYNC_ prefix, e.g. SHOPSYNC_TARGET_PASSWORD.`)
}
