// Package mapping implements the declarative field-mapping layer: the
// validated specification document, the type coercion engine, the transform
// chain and the resolver that turns raw feed records into target-shaped
// products.
package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Coercion modes
// ---------------------------------------------------------------------------

// CoercionMode controls how a rule reacts to values that do not already have
// the target type.
type CoercionMode string

const (
	// ModeStrict excludes mismatched values and records a warning.
	ModeStrict CoercionMode = "strict"

	// ModeCoerce attempts a best-effort conversion, falling back to the rule
	// default on failure, else excluding with a warning.
	ModeCoerce CoercionMode = "coerce"

	// ModeSkipOnError silently excludes the field on any failure.
	ModeSkipOnError CoercionMode = "skip-on-error"
)

// IsValid checks if the mode is one of the known values
func (m CoercionMode) IsValid() bool {
	switch m {
	case ModeStrict, ModeCoerce, ModeSkipOnError:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Source selectors
// ---------------------------------------------------------------------------

// selectorClass says which part of the source record a selector addresses.
type selectorClass int

const (
	selectField selectorClass = iota
	selectAttribute
	selectText
)

var selectorRE = regexp.MustCompile(`^(attributes|texts)\[([A-Za-z0-9_.\-]+)\]$`)

// Selector addresses one value inside a SourceProduct: a typed attribute
// (`attributes[code]`), a localized text block (`texts[code]`) or a dotted
// path into the top-level fields (`price.sv-SE`).
type Selector struct {
	class selectorClass
	code  string
	path  string
	raw   string
}

// ParseSelector parses the selector grammar. An empty selector is an error.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}, fmt.Errorf("mapping: empty source selector")
	}
	if m := selectorRE.FindStringSubmatch(s); m != nil {
		cls := selectAttribute
		if m[1] == "texts" {
			cls = selectText
		}
		return Selector{class: cls, code: m[2], raw: s}, nil
	}
	if strings.ContainsAny(s, "[]") {
		return Selector{}, fmt.Errorf("mapping: malformed source selector %q", s)
	}
	return Selector{class: selectField, path: s, raw: s}, nil
}

// String returns the selector as written in the mapping document.
func (s Selector) String() string { return s.raw }

// IsZero reports whether the selector is unset.
func (s Selector) IsZero() bool { return s.raw == "" }

// AttributeCode returns the addressed attribute code, if any.
func (s Selector) AttributeCode() (string, bool) {
	if s.class == selectAttribute {
		return s.code, true
	}
	return "", false
}

// TextCode returns the addressed text code, if any.
func (s Selector) TextCode() (string, bool) {
	if s.class == selectText {
		return s.code, true
	}
	return "", false
}

// FieldRoot returns the first segment of a field-path selector, if any.
func (s Selector) FieldRoot() (string, bool) {
	if s.class != selectField {
		return "", false
	}
	root, _, _ := strings.Cut(s.path, ".")
	return root, true
}

// Resolve locates the addressed raw value. For attribute selectors the
// attribute itself is returned alongside so transforms can reach its option
// labels. A text selector yields the whole catalog.LocalizedText block.
func (s Selector) Resolve(p *catalog.SourceProduct) (any, *catalog.Attribute, bool) {
	switch s.class {
	case selectAttribute:
		a, ok := p.Attribute(s.code)
		if !ok || a.Value == nil {
			return nil, nil, false
		}
		return a.Value, &a, true
	case selectText:
		t, ok := p.Text(s.code)
		if !ok || len(t.Values) == 0 {
			return nil, nil, false
		}
		return t, nil, true
	default:
		v, ok := p.Field(s.path)
		if !ok || v == nil {
			return nil, nil, false
		}
		return v, nil, true
	}
}

// ---------------------------------------------------------------------------
// Compiled rules
// ---------------------------------------------------------------------------

// Constraints are per-field validation limits applied after coercion and
// transforms. Zero values mean "not constrained".
type Constraints struct {
	MaxLength int
	Min       *decimal.Decimal
	Max       *decimal.Decimal
	Regex     *regexp.Regexp
}

// IsZero reports whether no constraint is configured.
func (c Constraints) IsZero() bool {
	return c.MaxLength == 0 && c.Min == nil && c.Max == nil && c.Regex == nil
}

// FieldRule is one compiled mapping entry for a scalar or localized field.
// Price-list and image-list document entries are compiled into PriceRule and
// the spec's image switch instead.
type FieldRule struct {
	// Source addresses the raw value. SourceByCulture overrides it for
	// specific cultures of a localized rule.
	Source          Selector
	SourceByCulture map[string]Selector

	// Target is the field path written downstream.
	Target string

	Kind catalog.Kind
	Mode CoercionMode

	// Allowed is the explicit allowlist flag. Rules with Allowed false are
	// kept in the spec (so discovery sees them as mapped) but resolve nothing.
	Allowed bool

	// Default is the fallback value for coerce-mode failures, already coerced
	// to Kind at load time. Zero when no default is configured.
	Default catalog.Value

	// Multi marks an enum rule as multi-valued.
	Multi bool

	// Cultures restricts a localized rule to a subset of the spec's cultures.
	// Empty means all configured cultures.
	Cultures []string

	// TransformNames is the ordered transform chain; Transforms holds the
	// compiled functions in the same order.
	TransformNames []string
	Transforms     []TransformFunc

	Constraints Constraints

	// AllowEmpty keeps empty text values instead of omitting the field.
	AllowEmpty bool
}

// appliesTo reports whether a localized rule covers the culture.
func (r *FieldRule) appliesTo(cultureID string) bool {
	if len(r.Cultures) == 0 {
		return true
	}
	for _, c := range r.Cultures {
		if c == cultureID {
			return true
		}
	}
	return false
}

// sourceFor returns the selector to use for a culture, honoring per-culture
// overrides.
func (r *FieldRule) sourceFor(cultureID string) Selector {
	if s, ok := r.SourceByCulture[cultureID]; ok {
		return s
	}
	return r.Source
}

// PriceRule maps one (culture, price list) pair to its source price fields.
type PriceRule struct {
	List    string
	Culture string

	Source             Selector
	DiscountSource     Selector
	DiscountFromSource Selector
	DiscountToSource   Selector
	ShowSource         Selector

	// ClearSentinel is the discount value that means "remove the published
	// discount" rather than "discount to this price".
	ClearSentinel decimal.Decimal
}

// Key returns the rule's (culture, list) identity.
func (r PriceRule) Key() catalog.PriceKey {
	return catalog.PriceKey{Culture: r.Culture, PriceList: r.List}
}

// AutoMapRule configures dynamic-field auto-mapping: feed attributes from the
// allowlist are mapped to target dynamic fields with kinds inferred from
// their feed types.
type AutoMapRule struct {
	Enabled      bool
	Allowlist    []string
	TargetPrefix string
}

// ---------------------------------------------------------------------------
// Culture
// ---------------------------------------------------------------------------

// Culture is one configured locale. Order inside the spec defines fallback
// precedence when no explicit fallback is configured.
type Culture struct {
	// ID is the culture identifier as configured, e.g. "sv-SE".
	ID string

	// Tag is the parsed BCP 47 tag.
	Tag language.Tag

	// Language is the feed language code feeding this culture, e.g. "sv".
	// Defaults to the tag's base language when not configured.
	Language string

	// Fallback is the culture ID consulted when this culture has no value.
	// Empty means "walk earlier cultures in configured order".
	Fallback string
}

// ---------------------------------------------------------------------------
// Spec
// ---------------------------------------------------------------------------

// Spec is the compiled, immutable mapping specification. It is loaded once
// per run; all pipeline stages share the same instance.
type Spec struct {
	Version int

	// Cultures is the ordered locale set.
	Cultures []Culture

	// FallbackLanguage is the feed language used when a culture's own
	// language has no value.
	FallbackLanguage string

	// Rules are the compiled field rules in document order.
	Rules []FieldRule

	// PriceRules are the compiled price-list rules in document order.
	PriceRules []PriceRule

	// ImagesEnabled turns the media pipeline on.
	ImagesEnabled bool

	// AutoMap configures dynamic-field auto-mapping.
	AutoMap AutoMapRule

	cultureByID map[string]*Culture
}

// Culture returns the configured culture with the given ID.
func (s *Spec) Culture(id string) (*Culture, bool) {
	c, ok := s.cultureByID[id]
	return c, ok
}

// FallbackFor returns the fallback chain for a culture: its explicit fallback
// if configured, then earlier cultures in configured order. The culture
// itself is not included.
func (s *Spec) FallbackFor(c *Culture) []*Culture {
	var out []*Culture
	seen := map[string]bool{c.ID: true}
	if c.Fallback != "" {
		if fb, ok := s.cultureByID[c.Fallback]; ok && !seen[fb.ID] {
			out = append(out, fb)
			seen[fb.ID] = true
		}
	}
	for i := range s.Cultures {
		prev := &s.Cultures[i]
		if prev.ID == c.ID {
			break
		}
		if !seen[prev.ID] {
			out = append(out, prev)
			seen[prev.ID] = true
		}
	}
	return out
}

// MappedAttributeCodes returns every feed attribute code referenced by any
// rule, price rule or the auto-map allowlist. Discovery treats everything
// else as unmapped.
func (s *Spec) MappedAttributeCodes() map[string]bool {
	out := make(map[string]bool)
	add := func(sel Selector) {
		if code, ok := sel.AttributeCode(); ok {
			out[code] = true
		}
	}
	for i := range s.Rules {
		add(s.Rules[i].Source)
		for _, sel := range s.Rules[i].SourceByCulture {
			add(sel)
		}
	}
	for i := range s.PriceRules {
		pr := &s.PriceRules[i]
		add(pr.Source)
		add(pr.DiscountSource)
		add(pr.DiscountFromSource)
		add(pr.DiscountToSource)
		add(pr.ShowSource)
	}
	for _, code := range s.AutoMap.Allowlist {
		out[code] = true
	}
	return out
}

// MappedTextCodes returns every feed text code referenced by any rule.
func (s *Spec) MappedTextCodes() map[string]bool {
	out := make(map[string]bool)
	add := func(sel Selector) {
		if code, ok := sel.TextCode(); ok {
			out[code] = true
		}
	}
	for i := range s.Rules {
		add(s.Rules[i].Source)
		for _, sel := range s.Rules[i].SourceByCulture {
			add(sel)
		}
	}
	return out
}

// KindForAttributeType infers the target kind for a feed attribute type.
// Used by dynamic-field auto-mapping and mapping discovery.
func KindForAttributeType(attrType string) (kind catalog.Kind, multi bool, ok bool) {
	switch attrType {
	case catalog.AttrTypeFloat, catalog.AttrTypeInt:
		return catalog.KindNumber, false, true
	case catalog.AttrTypeText, catalog.AttrTypeUniText:
		return catalog.KindText, false, true
	case catalog.AttrTypeBool:
		return catalog.KindBoolean, false, true
	case catalog.AttrTypeDate:
		return catalog.KindDate, false, true
	case catalog.AttrTypeRegister:
		return catalog.KindEnum, false, true
	case catalog.AttrTypeRegisterMulti:
		return catalog.KindEnum, true, true
	}
	return "", false, false
}
