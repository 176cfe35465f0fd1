package sync

import (
	"context"
	"time"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Feed port
// ---------------------------------------------------------------------------

// FeedQuery bounds one export pull from the feed.
type FeedQuery struct {
	// Since is the lower bound for feed-side changes.
	Since time.Time

	// ProductNo restricts the pull to one product when set.
	ProductNo string

	// IncludeDeleted asks the feed to emit deletion records as well.
	IncludeDeleted bool
}

// ProductIterator is a lazy, finite sequence of feed records. Next returns
// io.EOF after the last record. The same query can be re-issued to restart
// from the same lower bound.
type ProductIterator interface {
	Next(ctx context.Context) (*catalog.SourceProduct, error)
	Close() error
}

// ProductFeed is the authoritative read-only product export.
type ProductFeed interface {
	Export(ctx context.Context, query FeedQuery) (ProductIterator, error)
}

// MediaFetcher retrieves the binary content behind a media reference, used
// when an added image has to be uploaded downstream.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref catalog.MediaRef) ([]byte, error)
}

// ---------------------------------------------------------------------------
// Target port
// ---------------------------------------------------------------------------

// CoreUpdate carries the scalar field changes of one product. Set holds
// added and changed values; Clear lists the target paths to blank.
type CoreUpdate struct {
	ProductNo string
	Set       map[string]catalog.Value
	Clear     []string
}

// TextUpdate carries the localized field changes of one product for one
// culture.
type TextUpdate struct {
	ProductNo string
	Culture   string
	Set       map[string]catalog.Value
	Clear     []string
}

// ImageUpload carries one new image's bytes for upload. The returned handle
// is the target-side identifier used in the association update.
type ImageUpload struct {
	ProductNo   string
	MediaCode   string
	Fingerprint string
	Position    int
	Data        []byte
}

// ImageAssociation rewrites a product's image list to the given fingerprint
// order, dropping any association not listed. Handles maps the fingerprints
// uploaded this run to their target-side handles; fingerprints absent from
// the map are already known to the target.
type ImageAssociation struct {
	ProductNo    string
	Fingerprints []string
	Handles      map[string]string
}

// PriceUpdate carries one (culture, price list) entry. Remove unpublishes
// the entry instead of updating it.
type PriceUpdate struct {
	ProductNo string
	Entry     catalog.PriceEntry
	Remove    bool
}

// Target is the downstream write endpoint. Every call is one synchronous
// RPC with a definite success or failure; retry and backoff wrap these calls
// in the transport adapter, not here.
type Target interface {
	// UpdateCore upserts scalar fields.
	UpdateCore(ctx context.Context, update CoreUpdate) error

	// UpdateTexts upserts localized fields for one culture.
	UpdateTexts(ctx context.Context, update TextUpdate) error

	// UploadImage pushes image bytes and returns the target-side handle.
	UploadImage(ctx context.Context, upload ImageUpload) (string, error)

	// UpdateImageAssociations rewrites the product's image list.
	UpdateImageAssociations(ctx context.Context, assoc ImageAssociation) error

	// UpdatePrice upserts or removes one price entry.
	UpdatePrice(ctx context.Context, update PriceUpdate) error

	// DeleteProduct removes the product downstream.
	DeleteProduct(ctx context.Context, productNo string) error
}

// ---------------------------------------------------------------------------
// Artifact port
// ---------------------------------------------------------------------------

// ArtifactWriter stores dry-run output: one change-set file per product plus
// one run summary.
type ArtifactWriter interface {
	WriteChangeSet(ctx context.Context, productNo string, data []byte) error
	WriteSummary(ctx context.Context, runID string, data []byte) error
}
