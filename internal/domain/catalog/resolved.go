package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// ResolvedProduct
// ---------------------------------------------------------------------------

// ResolvedProduct is the target-shaped, coerced, allowlist-filtered form of
// one product for the current run. It is built once by the resolver and never
// mutated afterwards; the diff engine and the state store treat it as a value.
type ResolvedProduct struct {
	ProductNo string `json:"productNo"`

	// Core holds typed scalar fields keyed by target field path. The product's
	// top-level price never appears here; prices travel only in Prices.
	Core map[string]Value `json:"core,omitempty"`

	// Texts holds localized fields: culture -> target field path -> value.
	Texts map[string]map[string]Value `json:"texts,omitempty"`

	// Images is the ordered image list identified by content fingerprint.
	Images []Image `json:"images,omitempty"`

	// Prices holds one entry per configured (culture, price list) pair that
	// had a source value.
	Prices []PriceEntry `json:"prices,omitempty"`

	// Warnings collects field-level resolution problems (coercion failures,
	// truncations). Not part of the persisted snapshot.
	Warnings []Warning `json:"-"`
}

// Image is one entry of the ordered image list.
type Image struct {
	// Fingerprint is the content hash of the image bytes, hex encoded. It is
	// the image's identity for diffing; remote URLs are not stable enough.
	Fingerprint string `json:"fingerprint"`

	// MediaCode is the feed's identifier for the media item, kept so live
	// writes can re-fetch the bytes for upload.
	MediaCode string `json:"mediaCode"`

	// Position is the zero-based slot in the target's image order.
	Position int `json:"position"`
}

// PriceEntry is one resolved price for a (culture, price list) pair.
type PriceEntry struct {
	Culture   string          `json:"culture"`
	PriceList string          `json:"priceList"`
	Price     decimal.Decimal `json:"price"`

	// DiscountPrice is the discounted gross price; nil when no discount is
	// configured. ClearDiscount is set when the source explicitly removes a
	// previously published discount.
	DiscountPrice *decimal.Decimal `json:"discountPrice,omitempty"`
	ClearDiscount bool             `json:"clearDiscount,omitempty"`

	DiscountFrom *time.Time `json:"discountFrom,omitempty"`
	DiscountTo   *time.Time `json:"discountTo,omitempty"`

	// HideProduct mirrors the inverse of the source's show flag.
	HideProduct bool `json:"hideProduct,omitempty"`
}

// Warning records a non-fatal, field-level resolution problem.
type Warning struct {
	Field   string `json:"field"`
	Culture string `json:"culture,omitempty"`
	Message string `json:"message"`
}

// PriceKey identifies a price entry within a product.
type PriceKey struct {
	Culture   string
	PriceList string
}

// Key returns the entry's (culture, price list) identity.
func (e PriceEntry) Key() PriceKey {
	return PriceKey{Culture: e.Culture, PriceList: e.PriceList}
}

// Equal reports whether two price entries carry the same published values.
func (e PriceEntry) Equal(o PriceEntry) bool {
	if e.Culture != o.Culture || e.PriceList != o.PriceList {
		return false
	}
	if !e.Price.Equal(o.Price) {
		return false
	}
	if (e.DiscountPrice == nil) != (o.DiscountPrice == nil) {
		return false
	}
	if e.DiscountPrice != nil && !e.DiscountPrice.Equal(*o.DiscountPrice) {
		return false
	}
	if e.ClearDiscount != o.ClearDiscount || e.HideProduct != o.HideProduct {
		return false
	}
	return timePtrEqual(e.DiscountFrom, o.DiscountFrom) && timePtrEqual(e.DiscountTo, o.DiscountTo)
}

// PriceByKey returns the entry for a (culture, list) pair.
func (p *ResolvedProduct) PriceByKey(key PriceKey) (PriceEntry, bool) {
	for _, e := range p.Prices {
		if e.Key() == key {
			return e, true
		}
	}
	return PriceEntry{}, false
}

// ImageFingerprints returns the ordered fingerprint list.
func (p *ResolvedProduct) ImageFingerprints() []string {
	out := make([]string, len(p.Images))
	for i, img := range p.Images {
		out[i] = img.Fingerprint
	}
	return out
}

// AddWarning appends a field-level warning.
func (p *ResolvedProduct) AddWarning(field, culture, message string) {
	p.Warnings = append(p.Warnings, Warning{Field: field, Culture: culture, Message: message})
}

func timePtrEqual(a, b *time.Time) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || a.Equal(*b)
}
