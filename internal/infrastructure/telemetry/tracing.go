// Package telemetry provides OpenTelemetry integration for distributed tracing.
// This file contains utility functions for tracing sync runs and outbound calls.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the default tracer name for sync spans
	TracerName = "shopsync"
)

// SpanOption is a function that configures span start options
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttributes adds attributes to the span at start time
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attrs...)
	}
}

// WithSpanKind sets the span kind
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(opts *spanOptions) {
		opts.kind = kind
	}
}

// StartSpan starts a new span with the given name.
// It returns a new context containing the span and the span itself.
// The caller is responsible for calling span.End() when the operation completes.
//
// Example usage:
//
//	ctx, span := telemetry.StartSpan(ctx, "sync.product")
//	defer span.End()
//
//	// ... pipeline stages ...
//
//	if err != nil {
//	    telemetry.RecordError(ctx, err)
//	    return err
//	}
func StartSpan(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span) {
	// Apply options
	options := &spanOptions{
		kind: trace.SpanKindInternal,
	}
	for _, opt := range opts {
		opt(options)
	}

	// Get tracer
	tracer := otel.GetTracerProvider().Tracer(TracerName)

	// Build span start options
	startOpts := []trace.SpanStartOption{
		trace.WithSpanKind(options.kind),
	}
	if len(options.attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(options.attributes...))
	}

	return tracer.Start(ctx, spanName, startOpts...)
}

// StartClientSpan starts a client-kind span for an outbound call to the feed
// or the target API. It follows the naming convention {system}.{method}
// (e.g., "target.Product.AddUpdate", "feed.export").
//
// Example:
//
//	ctx, span := telemetry.StartClientSpan(ctx, "target", "Product.AddUpdate")
//	defer span.End()
func StartClientSpan(ctx context.Context, system, method string, opts ...SpanOption) (context.Context, trace.Span) {
	spanName := fmt.Sprintf("%s.%s", system, method)
	opts = append(opts, WithSpanKind(trace.SpanKindClient))
	return StartSpan(ctx, spanName, opts...)
}

// SetAttributes adds attributes to the span in the context.
// Attributes provide context about the operation being traced.
//
// Example:
//
//	telemetry.SetAttributes(ctx,
//	    attribute.String("product.no", src.ProductNo),
//	    attribute.Int("changes", changes),
//	)
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || len(attrs) == 0 {
		return
	}
	span.SetAttributes(attrs...)
}

// RecordError records an error on the span in the context and sets the span
// status to error. This should be called when an operation fails.
//
// Example:
//
//	if err := o.target.SetProductCore(ctx, core); err != nil {
//	    telemetry.RecordError(ctx, err)
//	    return err
//	}
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span in the context as successful.
// This is optional since spans without an error status are considered successful.
func SetOK(ctx context.Context) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span in the context with optional attributes.
// Events are time-stamped annotations that can be used to record
// significant occurrences during the span's lifetime.
//
// Example:
//
//	telemetry.AddEvent(ctx, "state_committed",
//	    attribute.String("product.no", productNo),
//	)
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SpanFromContext returns the current span from the context.
// This is useful when you need to add attributes or events to an existing span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// ContextWithSpan returns a new context containing the given span.
func ContextWithSpan(ctx context.Context, span trace.Span) context.Context {
	return trace.ContextWithSpan(ctx, span)
}

// GetTraceID returns the trace ID from the current span in the context.
// Returns empty string if no span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	traceID := span.SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}

// GetSpanID returns the span ID from the current span in the context.
// Returns empty string if no span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	spanID := span.SpanContext().SpanID()
	if !spanID.IsValid() {
		return ""
	}
	return spanID.String()
}

// Common attribute keys for sync spans (string keys for trace attributes)
// Note: Metric attributes are defined in metrics.go as attribute.Key types.
// These string constants are for trace span attributes only.
const (
	// Run attributes
	SpanAttrRunID  = "run.id"
	SpanAttrDryRun = "run.dry_run"

	// Product attributes
	SpanAttrProductNo = "product.no"
	SpanAttrStage     = "sync.stage"

	// Mapping attributes
	SpanAttrCulture   = "culture"
	SpanAttrPriceList = "price_list"

	// Outbound call attributes
	SpanAttrRPCMethod  = "rpc.method"
	SpanAttrFeedPage   = "feed.page"
	SpanAttrStatusCode = "http.status_code"
)
