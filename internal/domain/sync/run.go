package sync

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Run status
// ---------------------------------------------------------------------------

// Status is the lifecycle state of one run.
type Status string

const (
	// StatusRunning marks a run in progress.
	StatusRunning Status = "RUNNING"
	// StatusSuccess marks a run where every processed product succeeded.
	StatusSuccess Status = "SUCCESS"
	// StatusPartial marks a run with both successes and per-product failures.
	StatusPartial Status = "PARTIAL"
	// StatusFailed marks a run where every processed product failed, or that
	// was aborted by a fatal error.
	StatusFailed Status = "FAILED"
	// StatusCancelled marks a run interrupted by cancellation.
	StatusCancelled Status = "CANCELLED"
)

// IsValid returns true if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Pipeline stages
// ---------------------------------------------------------------------------

// Stage names the pipeline step a per-product failure occurred in.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageResolve  Stage = "resolve"
	StageCore     Stage = "core"
	StageTexts    Stage = "texts"
	StageImages   Stage = "images"
	StagePrices   Stage = "prices"
	StageDelete   Stage = "delete"
	StageState    Stage = "state"
	StageArtifact Stage = "artifact"
)

// ---------------------------------------------------------------------------
// RunContext
// ---------------------------------------------------------------------------

// RunContext is the immutable configuration of one run, created once at run
// start and passed explicitly through the pipeline.
type RunContext struct {
	// RunID uniquely identifies the run.
	RunID string

	// Since is the lower bound for feed-side changes.
	Since time.Time

	// ProductNo restricts the run to one product when set.
	ProductNo string

	// Limit caps the number of processed products; zero means no cap.
	Limit int

	// DryRun computes and records change sets without contacting the target
	// or committing state.
	DryRun bool

	// StartedAt is the run start; it becomes the watermark committed when
	// the run finishes without a fatal error.
	StartedAt time.Time
}

// NewRunContext creates a run context with a fresh run ID.
func NewRunContext(since time.Time, productNo string, limit int, dryRun bool) RunContext {
	return RunContext{
		RunID:     uuid.NewString(),
		Since:     since,
		ProductNo: productNo,
		Limit:     limit,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// RunSummary
// ---------------------------------------------------------------------------

// Failure is one per-product failure with its pipeline stage and cause.
type Failure struct {
	ProductNo string `json:"productNo"`
	Stage     Stage  `json:"stage"`
	Cause     string `json:"cause"`
}

// RunSummary aggregates the outcome of one run.
type RunSummary struct {
	RunID  string `json:"runId"`
	Status Status `json:"status"`
	DryRun bool   `json:"dryRun"`

	// TraceID links the summary to the run's trace when tracing is on.
	TraceID string `json:"traceId,omitempty"`

	// Processed counts products that went through the pipeline.
	Processed int `json:"processed"`
	// Changed counts products with a non-empty change set.
	Changed int `json:"changed"`
	// Skipped counts products whose change set was empty (no-op).
	Skipped int `json:"skipped"`
	// Deleted counts products removed downstream.
	Deleted int `json:"deleted"`
	// Failed counts products that exhausted their pipeline with an error.
	Failed int `json:"failed"`
	// Warnings counts field-level resolution warnings across all products.
	Warnings int `json:"warnings"`

	// Failures lists every per-product failure with cause.
	Failures []Failure `json:"failures,omitempty"`

	// FatalError is set when the run aborted before completing the product
	// set; the watermark is not advanced in that case.
	FatalError string `json:"fatalError,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Complete finalizes the summary, deriving the terminal status from the
// counts.
func (s *RunSummary) Complete() {
	s.FinishedAt = time.Now().UTC()
	switch {
	case s.FatalError != "":
		s.Status = StatusFailed
	case s.Failed == 0:
		s.Status = StatusSuccess
	case s.Processed > s.Failed:
		s.Status = StatusPartial
	default:
		s.Status = StatusFailed
	}
}

// AddFailure records one per-product failure.
func (s *RunSummary) AddFailure(productNo string, stage Stage, err error) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{
		ProductNo: productNo,
		Stage:     stage,
		Cause:     err.Error(),
	})
}

// HasFailures reports whether any product failed. The CLI exits non-zero
// when it returns true.
func (s *RunSummary) HasFailures() bool {
	return s.Failed > 0 || s.FatalError != ""
}
