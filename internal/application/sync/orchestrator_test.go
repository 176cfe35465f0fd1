package sync

import (
	"context"
	"errors"
	"io"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/mapping"
	"github.com/erp/shopsync/internal/domain/sync"
)

// ---------------------------------------------------------------------------
// In-memory collaborators
// ---------------------------------------------------------------------------

type sliceIterator struct {
	items []*catalog.SourceProduct
	pos   int
}

func (it *sliceIterator) Next(_ context.Context) (*catalog.SourceProduct, error) {
	if it.pos >= len(it.items) {
		return nil, io.EOF
	}
	item := it.items[it.pos]
	it.pos++
	return item, nil
}

func (it *sliceIterator) Close() error { return nil }

type memFeed struct {
	products  []*catalog.SourceProduct
	exportErr error
}

func (f *memFeed) Export(_ context.Context, query sync.FeedQuery) (sync.ProductIterator, error) {
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	items := f.products
	if query.ProductNo != "" {
		items = nil
		for _, p := range f.products {
			if p.ProductNo == query.ProductNo {
				items = append(items, p)
			}
		}
	}
	return &sliceIterator{items: items}, nil
}

type mockTarget struct {
	mu         stdsync.Mutex
	coreCalls  []sync.CoreUpdate
	textCalls  []sync.TextUpdate
	uploads    []sync.ImageUpload
	assocs     []sync.ImageAssociation
	priceCalls []sync.PriceUpdate
	deletes    []string

	// failOn makes the named operation fail.
	failOn string
}

func (t *mockTarget) fail(op string) error {
	if t.failOn == op {
		return errors.New("rpc fault")
	}
	return nil
}

func (t *mockTarget) UpdateCore(_ context.Context, u sync.CoreUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("core"); err != nil {
		return err
	}
	t.coreCalls = append(t.coreCalls, u)
	return nil
}

func (t *mockTarget) UpdateTexts(_ context.Context, u sync.TextUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("texts"); err != nil {
		return err
	}
	t.textCalls = append(t.textCalls, u)
	return nil
}

func (t *mockTarget) UploadImage(_ context.Context, u sync.ImageUpload) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("upload"); err != nil {
		return "", err
	}
	t.uploads = append(t.uploads, u)
	return "handle-" + u.Fingerprint, nil
}

func (t *mockTarget) UpdateImageAssociations(_ context.Context, a sync.ImageAssociation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("association"); err != nil {
		return err
	}
	t.assocs = append(t.assocs, a)
	return nil
}

func (t *mockTarget) UpdatePrice(_ context.Context, u sync.PriceUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("price"); err != nil {
		return err
	}
	t.priceCalls = append(t.priceCalls, u)
	return nil
}

func (t *mockTarget) DeleteProduct(_ context.Context, productNo string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("delete"); err != nil {
		return err
	}
	t.deletes = append(t.deletes, productNo)
	return nil
}

func (t *mockTarget) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.coreCalls) + len(t.textCalls) + len(t.uploads) +
		len(t.assocs) + len(t.priceCalls) + len(t.deletes)
}

type memStates struct {
	mu      stdsync.Mutex
	records map[string]*sync.StateRecord
	runs    []*sync.RunRecord
	puts    int
	getErr  error
}

func newMemStates() *memStates {
	return &memStates{records: make(map[string]*sync.StateRecord)}
}

func (s *memStates) Get(_ context.Context, productNo string) (*sync.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	record, ok := s.records[productNo]
	if !ok {
		return nil, sync.ErrStateNotFound
	}
	return record, nil
}

func (s *memStates) Put(_ context.Context, record *sync.StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ProductNo] = record
	s.puts++
	return nil
}

func (s *memStates) Delete(_ context.Context, productNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, productNo)
	return nil
}

func (s *memStates) LastWatermark(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, r := range s.runs {
		if r.Watermark.After(latest) {
			latest = r.Watermark
		}
	}
	return latest, nil
}

func (s *memStates) CommitRun(_ context.Context, record *sync.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, record)
	return nil
}

type memArtifacts struct {
	mu         stdsync.Mutex
	changeSets map[string][]byte
	summaries  map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{changeSets: make(map[string][]byte), summaries: make(map[string][]byte)}
}

func (a *memArtifacts) WriteChangeSet(_ context.Context, productNo string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changeSets[productNo] = data
	return nil
}

func (a *memArtifacts) WriteSummary(_ context.Context, runID string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summaries[runID] = data
	return nil
}

type stubMedia struct{}

func (stubMedia) Fetch(_ context.Context, ref catalog.MediaRef) ([]byte, error) {
	return []byte("bytes-" + ref.Code), nil
}

type stubFingerprinter struct{}

func (stubFingerprinter) Fingerprint(_ context.Context, ref catalog.MediaRef) (string, error) {
	return "fp-" + ref.Code, nil
}

type failingFingerprinter struct {
	failFor string
}

func (f failingFingerprinter) Fingerprint(_ context.Context, ref catalog.MediaRef) (string, error) {
	if f.failFor == ref.Code {
		return "", errors.New("fetch timeout")
	}
	return "fp-" + ref.Code, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

const orchestratorDoc = `
version: 1
cultures: [sv-SE]
images:
  enabled: true
fields:
  - source: name
    target: Name
    kind: text
    mode: coerce
    allow: true
price_lists:
  - list: default
    culture: sv-SE
    source: price.sv-SE
`

func widgetProduct() *catalog.SourceProduct {
	return &catalog.SourceProduct{
		ProductNo: "1092-10",
		Action:    "Update",
		Language:  "sv",
		Fields: map[string]any{
			"name":  "Widget",
			"price": map[string]any{"sv-SE": "199.00"},
		},
		Media: []catalog.MediaRef{
			{Code: "m1", URL: "https://cdn/img1", Position: 1},
		},
	}
}

func secondProduct() *catalog.SourceProduct {
	return &catalog.SourceProduct{
		ProductNo: "2044-7",
		Action:    "Update",
		Language:  "sv",
		Fields: map[string]any{
			"name":  "Gadget",
			"price": map[string]any{"sv-SE": "49.00"},
		},
	}
}

type harness struct {
	orch      *Orchestrator
	feed      *memFeed
	target    *mockTarget
	states    *memStates
	artifacts *memArtifacts
}

func newHarness(t *testing.T, products []*catalog.SourceProduct, fp mapping.MediaFingerprinter) *harness {
	t.Helper()
	spec, err := mapping.Parse([]byte(orchestratorDoc))
	require.NoError(t, err)

	h := &harness{
		feed:      &memFeed{products: products},
		target:    &mockTarget{},
		states:    newMemStates(),
		artifacts: newMemArtifacts(),
	}
	h.orch, err = NewOrchestrator(Options{
		Spec:      spec,
		Resolver:  mapping.NewResolver(spec, fp),
		Feed:      h.feed,
		Target:    h.target,
		States:    h.states,
		Media:     stubMedia{},
		Artifacts: h.artifacts,
		Logger:    zap.NewNop(),
		Workers:   1,
	})
	require.NoError(t, err)
	return h
}

func runCtx(dryRun bool, limit int) sync.RunContext {
	return sync.RunContext{
		RunID:     "run-1",
		Since:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Limit:     limit,
		DryRun:    dryRun,
		StartedAt: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunFirstSyncAppliesEverything(t *testing.T) {
	h := newHarness(t, []*catalog.SourceProduct{widgetProduct()}, stubFingerprinter{})

	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)

	assert.Equal(t, sync.StatusSuccess, summary.Status)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Changed)
	assert.False(t, summary.HasFailures())

	require.Len(t, h.target.coreCalls, 1)
	assert.Equal(t, "Widget", h.target.coreCalls[0].Set["Name"].Text())
	require.Len(t, h.target.priceCalls, 1)
	assert.Equal(t, "default", h.target.priceCalls[0].Entry.PriceList)
	require.Len(t, h.target.uploads, 1)
	assert.Equal(t, []byte("bytes-m1"), h.target.uploads[0].Data)
	require.Len(t, h.target.assocs, 1)
	assert.Equal(t, []string{"fp-m1"}, h.target.assocs[0].Fingerprints)
	assert.Equal(t, "handle-fp-m1", h.target.assocs[0].Handles["fp-m1"])

	// State committed and the watermark advanced to the run start.
	_, err = h.states.Get(context.Background(), "1092-10")
	assert.NoError(t, err)
	require.Len(t, h.states.runs, 1)
	assert.Equal(t, runCtx(false, 0).StartedAt, h.states.runs[0].Watermark)
}

func TestRunSecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t, []*catalog.SourceProduct{widgetProduct()}, stubFingerprinter{})

	_, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)
	firstWrites := h.target.writeCount()
	firstPuts := h.states.puts

	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Changed)
	assert.Equal(t, firstWrites, h.target.writeCount(), "an unchanged product issues zero downstream calls")
	assert.Equal(t, firstPuts, h.states.puts, "an unchanged product commits no state")
}

func TestRunPartialFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, []*catalog.SourceProduct{widgetProduct()}, stubFingerprinter{})
	h.target.failOn = "association"

	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err, "a per-product failure never aborts the run")

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, sync.StageImages, summary.Failures[0].Stage)
	assert.True(t, summary.HasFailures())
	assert.Equal(t, sync.StatusFailed, summary.Status)

	// Core write happened before the failure, but state stays uncommitted.
	assert.Len(t, h.target.coreCalls, 1)
	_, err = h.states.Get(context.Background(), "1092-10")
	assert.ErrorIs(t, err, sync.ErrStateNotFound)

	// A re-run with the same since retries the whole product and commits.
	h.target.failOn = ""
	summary, err = h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, h.target.coreCalls, 2, "the full change set is reissued, not just the failed stage")
	_, err = h.states.Get(context.Background(), "1092-10")
	assert.NoError(t, err)
}

func TestRunDryRunWithLimit(t *testing.T) {
	h := newHarness(t, []*catalog.SourceProduct{widgetProduct(), secondProduct()}, stubFingerprinter{})

	summary, err := h.orch.Run(context.Background(), runCtx(true, 1))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed, "the limit caps the processed set")
	assert.Equal(t, 1, summary.Changed)
	assert.False(t, summary.HasFailures(), "diffs are expected dry-run output, not errors")

	assert.Len(t, h.artifacts.changeSets, 1)
	assert.Contains(t, h.artifacts.changeSets, "1092-10")
	assert.Len(t, h.artifacts.summaries, 1)

	assert.Zero(t, h.target.writeCount(), "dry-run never contacts the target")
	assert.Zero(t, h.states.puts, "dry-run never commits state")
	assert.Empty(t, h.states.runs, "dry-run never advances the watermark")
}

func TestRunDeletionFlow(t *testing.T) {
	gone := widgetProduct()
	gone.Action = "Delete"
	h := newHarness(t, []*catalog.SourceProduct{gone}, stubFingerprinter{})

	// Unknown product: nothing to delete downstream.
	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, h.target.deletes)

	// Seed committed state, then the deletion goes downstream and drops it.
	require.NoError(t, h.states.Put(context.Background(), &sync.StateRecord{
		ProductNo: "1092-10",
		Snapshot:  &catalog.ResolvedProduct{ProductNo: "1092-10"},
	}))
	summary, err = h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, []string{"1092-10"}, h.target.deletes)
	_, err = h.states.Get(context.Background(), "1092-10")
	assert.ErrorIs(t, err, sync.ErrStateNotFound)
}

func TestRunResolveFailureIsPerProduct(t *testing.T) {
	h := newHarness(t, []*catalog.SourceProduct{widgetProduct(), secondProduct()}, failingFingerprinter{failFor: "m1"})

	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, sync.StatusPartial, summary.Status)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "1092-10", summary.Failures[0].ProductNo)
	assert.Equal(t, sync.StageResolve, summary.Failures[0].Stage)

	// The healthy product still committed.
	_, err = h.states.Get(context.Background(), "2044-7")
	assert.NoError(t, err)
}

func TestRunFeedDrainErrorAborts(t *testing.T) {
	h := newHarness(t, nil, stubFingerprinter{})
	h.feed.exportErr = errors.New("export endpoint 503")

	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.Error(t, err)

	assert.Equal(t, sync.StatusFailed, summary.Status)
	assert.NotEmpty(t, summary.FatalError)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, h.states.runs, "a fatal run never advances the watermark")
}

func TestRunStateStoreGetFailure(t *testing.T) {
	h := newHarness(t, []*catalog.SourceProduct{widgetProduct()}, stubFingerprinter{})
	h.states.getErr = errors.New("disk gone")

	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, sync.StageState, summary.Failures[0].Stage)
	assert.Zero(t, h.target.writeCount(), "no writes without a trustworthy prior state")
}

func TestRunConcurrentWorkers(t *testing.T) {
	var products []*catalog.SourceProduct
	for i := 0; i < 20; i++ {
		p := secondProduct()
		p.ProductNo = p.ProductNo + "-" + string(rune('a'+i))
		products = append(products, p)
	}

	h := newHarness(t, products, stubFingerprinter{})
	h.orch.workers = 4

	summary, err := h.orch.Run(context.Background(), runCtx(false, 0))
	require.NoError(t, err)

	assert.Equal(t, 20, summary.Processed)
	assert.Equal(t, 20, summary.Changed)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 20, h.states.puts)
}

func TestRunSingleProductFilter(t *testing.T) {
	h := newHarness(t, []*catalog.SourceProduct{widgetProduct(), secondProduct()}, stubFingerprinter{})

	rc := runCtx(false, 0)
	rc.ProductNo = "2044-7"
	summary, err := h.orch.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	require.Len(t, h.target.coreCalls, 1)
	assert.Equal(t, "2044-7", h.target.coreCalls[0].ProductNo)
}

func TestResolveSince(t *testing.T) {
	states := newMemStates()
	explicit := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// An explicit since always wins.
	since, err := ResolveSince(context.Background(), states, explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, since)

	// No explicit since and no stored watermark is a configuration error.
	_, err = ResolveSince(context.Background(), states, time.Time{})
	require.Error(t, err)

	// The stored watermark fills in when present.
	watermark := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, states.CommitRun(context.Background(), &sync.RunRecord{Watermark: watermark}))
	since, err = ResolveSince(context.Background(), states, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, watermark, since)
}
