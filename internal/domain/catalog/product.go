// Package catalog holds the product data model shared by the mapping,
// diffing and synchronization layers: the raw feed-side record, the
// target-shaped resolved record, and the typed field values in between.
package catalog

import (
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Feed attribute types
// ---------------------------------------------------------------------------

// Attribute type identifiers as declared by the feed export. Used by mapping
// discovery and dynamic-field auto-mapping to infer target kinds.
const (
	AttrTypeFloat         = "FLOAT"
	AttrTypeInt           = "INT"
	AttrTypeText          = "TEXT"
	AttrTypeUniText       = "UNI_TEXT"
	AttrTypeBool          = "BOOL"
	AttrTypeDate          = "DATE"
	AttrTypeRegister      = "DATA_REGISTER"
	AttrTypeRegisterMulti = "DATA_REGISTER_MULTI"
)

// ActionDelete marks a feed record as a deletion of the product downstream.
const ActionDelete = "Delete"

// ---------------------------------------------------------------------------
// SourceProduct
// ---------------------------------------------------------------------------

// SourceProduct is one raw product record as produced by the feed export.
// It is read-only input to the resolver; nothing in the pipeline mutates it.
type SourceProduct struct {
	// ProductNo is the stable external identity, e.g. "1092-10".
	ProductNo string

	// Action is the feed's change verb for this record ("Update", "Delete", ...).
	Action string

	// Deleted is set by exports that flag removals instead of using Action.
	Deleted bool

	// Language is the feed's primary language code, e.g. "sv".
	Language string

	// ChangedAt is the feed-side modification timestamp of this record.
	ChangedAt time.Time

	// Fields holds the top-level product fields as decoded from the export,
	// addressable by dotted path (e.g. "price.sv-SE").
	Fields map[string]any

	// Attributes holds typed feed attributes keyed by attribute code.
	Attributes map[string]Attribute

	// Texts holds localized text blocks keyed by text code.
	Texts map[string]LocalizedText

	// Media lists the product's binary media references in feed order.
	Media []MediaRef
}

// Attribute is a typed feed attribute with optional register option labels.
type Attribute struct {
	Code  string
	Type  string
	Value any

	// Options maps register codes to per-language display labels,
	// e.g. {"4": {"sv": "Vit", "nb": "Hvit"}}.
	Options map[string]map[string]string
}

// LocalizedText is a feed text block with per-language values.
type LocalizedText struct {
	Code   string
	Values map[string]string
}

// MediaRef points at remote binary content belonging to the product.
type MediaRef struct {
	// Code is the feed's stable identifier for the media item.
	Code string

	// URL is the remote location of the binary content. It may change between
	// exports even when the content does not; content fingerprints, not URLs,
	// identify images downstream.
	URL string

	// Position is the feed-side ordering of the media item.
	Position int

	// Version is an optional feed-provided content version hint (etag or
	// revision). Empty when the feed cannot vouch for content stability.
	Version string
}

// IsDeletion reports whether the record asks for the product to be removed
// downstream.
func (p *SourceProduct) IsDeletion() bool {
	return p.Deleted || p.Action == ActionDelete
}

// Attribute looks up a feed attribute by code.
func (p *SourceProduct) Attribute(code string) (Attribute, bool) {
	a, ok := p.Attributes[code]
	return a, ok
}

// Text looks up a localized text block by code.
func (p *SourceProduct) Text(code string) (LocalizedText, bool) {
	t, ok := p.Texts[code]
	return t, ok
}

// Field resolves a dotted path against the top-level field map. Intermediate
// segments must be objects; a miss at any segment returns false.
func (p *SourceProduct) Field(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = p.Fields
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// OptionLabel returns the display label for a register code, preferring the
// requested language and falling back to the given fallback language.
func (a Attribute) OptionLabel(code, language, fallback string) (string, bool) {
	labels, ok := a.Options[code]
	if !ok {
		return "", false
	}
	if l, ok := labels[language]; ok && l != "" {
		return l, true
	}
	if l, ok := labels[fallback]; ok && l != "" {
		return l, true
	}
	return "", false
}

// Value returns the text for a language, falling back to the given fallback
// language when the requested one is absent or blank.
func (t LocalizedText) Value(language, fallback string) (string, bool) {
	if v, ok := t.Values[language]; ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if v, ok := t.Values[fallback]; ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	return "", false
}
