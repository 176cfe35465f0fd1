// Package sync holds the synchronization domain: minimal change detection
// between resolved products, the per-product state committed after successful
// writes, and the ports the orchestrator drives.
package sync

import (
	"encoding/json"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Delta types
// ---------------------------------------------------------------------------

// Op is the kind of change a delta describes.
type Op string

const (
	// OpAdd marks a field, image or price present now but not before.
	OpAdd Op = "add"
	// OpChange marks a field or price whose value differs from the prior state.
	OpChange Op = "change"
	// OpRemove marks a field, image or price present before but not now.
	OpRemove Op = "remove"
)

// FieldDelta is one core or localized field change. Old is nil for additions,
// New is nil for removals.
type FieldDelta struct {
	Path string         `json:"path"`
	Op   Op             `json:"op"`
	Old  *catalog.Value `json:"old,omitempty"`
	New  *catalog.Value `json:"new,omitempty"`
}

// ImageDelta describes the image reconciliation for one product. Added and
// Removed track membership by content fingerprint; Reordered is set when
// fingerprints present in both lists appear in a different relative order.
// Order always carries the full target order so associations can be rewritten
// in one call.
type ImageDelta struct {
	Added     []catalog.Image `json:"added,omitempty"`
	Removed   []catalog.Image `json:"removed,omitempty"`
	Reordered bool            `json:"reordered,omitempty"`
	Order     []string        `json:"order"`
}

// IsZero reports whether the delta describes no change.
func (d *ImageDelta) IsZero() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Removed) == 0 && !d.Reordered)
}

// PriceDelta is one (culture, price list) change. Old is nil for additions,
// New is nil for removals.
type PriceDelta struct {
	Culture   string              `json:"culture"`
	PriceList string              `json:"priceList"`
	Op        Op                  `json:"op"`
	Old       *catalog.PriceEntry `json:"old,omitempty"`
	New       *catalog.PriceEntry `json:"new,omitempty"`
}

// ---------------------------------------------------------------------------
// ChangeSet
// ---------------------------------------------------------------------------

// ChangeSet is the minimal difference between a newly resolved product and
// its last committed state. An empty ChangeSet means the product needs no
// downstream calls this run.
//
// All slices are sorted at construction time and the serialized form is
// stable: identical inputs always produce byte-identical output, so dry-run
// artifacts can be diffed across runs.
type ChangeSet struct {
	ProductNo string `json:"productNo"`

	// Deleted marks the whole product for removal downstream. A deletion
	// carries no field deltas.
	Deleted bool `json:"deleted,omitempty"`

	// Core lists scalar field deltas sorted by target path.
	Core []FieldDelta `json:"core,omitempty"`

	// Texts lists localized field deltas per culture, each sorted by target
	// path.
	Texts map[string][]FieldDelta `json:"texts,omitempty"`

	// Images is the image reconciliation, nil when nothing changed.
	Images *ImageDelta `json:"images,omitempty"`

	// Prices lists price deltas sorted by (culture, price list).
	Prices []PriceDelta `json:"prices,omitempty"`
}

// DeletionChangeSet builds the change set for a product the feed retired.
func DeletionChangeSet(productNo string) *ChangeSet {
	return &ChangeSet{ProductNo: productNo, Deleted: true}
}

// IsEmpty reports whether the product needs no downstream calls.
func (c *ChangeSet) IsEmpty() bool {
	return !c.Deleted &&
		len(c.Core) == 0 &&
		len(c.Texts) == 0 &&
		c.Images.IsZero() &&
		len(c.Prices) == 0
}

// Ops counts the individual deltas, for run logging.
func (c *ChangeSet) Ops() int {
	n := len(c.Core) + len(c.Prices)
	for _, deltas := range c.Texts {
		n += len(deltas)
	}
	if !c.Images.IsZero() {
		n += len(c.Images.Added) + len(c.Images.Removed)
		if c.Images.Reordered {
			n++
		}
	}
	if c.Deleted {
		n++
	}
	return n
}

// Marshal renders the change set as the dry-run artifact payload: indented
// JSON with a trailing newline, stable across runs for identical inputs.
func (c *ChangeSet) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
