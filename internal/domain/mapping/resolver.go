package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// MediaFingerprinter turns a media reference into a content fingerprint.
// Implementations fetch the remote bytes and hash them; the fingerprint, not
// the URL, is the image identity used for diffing.
type MediaFingerprinter interface {
	Fingerprint(ctx context.Context, ref catalog.MediaRef) (string, error)
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// Resolver applies a compiled mapping specification to raw feed records. It
// iterates configured rules only, never source fields, which is what enforces
// the allowlist: a source field without an allowlisted rule can never reach
// the resolved output.
//
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	spec  *Spec
	media MediaFingerprinter
}

// NewResolver creates a resolver for one loaded spec. media may be nil when
// the spec has images disabled.
func NewResolver(spec *Spec, media MediaFingerprinter) *Resolver {
	return &Resolver{spec: spec, media: media}
}

// Resolve builds the target-shaped record for one source product. Field-level
// problems become warnings on the result; the only errors returned are media
// fingerprinting failures, which make the whole product unresolvable for this
// run.
func (r *Resolver) Resolve(ctx context.Context, src *catalog.SourceProduct) (*catalog.ResolvedProduct, error) {
	if r.spec == nil {
		return nil, ErrSpecNotLoaded
	}

	out := &catalog.ResolvedProduct{
		ProductNo: src.ProductNo,
		Core:      make(map[string]catalog.Value),
		Texts:     make(map[string]map[string]catalog.Value),
	}

	for i := range r.spec.Rules {
		rule := &r.spec.Rules[i]
		if !rule.Allowed {
			continue
		}
		if rule.Kind == catalog.KindLocalizedText {
			r.resolveLocalized(rule, src, out)
			continue
		}
		r.resolveCore(rule, src, out)
	}

	r.resolveAutoMapped(src, out)

	if err := r.resolveImages(ctx, src, out); err != nil {
		return nil, err
	}
	r.resolvePrices(src, out)

	return out, nil
}

// resolveCore places one scalar field into the core partition.
func (r *Resolver) resolveCore(rule *FieldRule, src *catalog.SourceProduct, out *catalog.ResolvedProduct) {
	raw, attr, ok := rule.Source.Resolve(src)
	if !ok {
		return
	}

	// A text-block source feeding a core field contributes its feed-language
	// value.
	if lt, isText := raw.(catalog.LocalizedText); isText {
		s, found := lt.Value(src.Language, r.spec.FallbackLanguage)
		if !found {
			return
		}
		raw = s
	}

	tctx := TransformContext{
		FeedLanguage:     src.Language,
		FallbackLanguage: r.spec.FallbackLanguage,
		Attribute:        attr,
	}
	if v, ok := r.shape(raw, rule, tctx, "", out); ok {
		out.Core[rule.Target] = v
	}
}

// resolveLocalized places one localized field into every applicable culture's
// text bundle. A culture without any candidate value is left unset; that is
// expected, not an error.
func (r *Resolver) resolveLocalized(rule *FieldRule, src *catalog.SourceProduct, out *catalog.ResolvedProduct) {
	for ci := range r.spec.Cultures {
		culture := &r.spec.Cultures[ci]
		if !rule.appliesTo(culture.ID) {
			continue
		}

		raw, attr, ok := r.selectLocalized(rule, culture, src)
		if !ok {
			continue
		}

		tctx := TransformContext{
			Culture:          culture.ID,
			FeedLanguage:     culture.Language,
			FallbackLanguage: r.spec.FallbackLanguage,
			Attribute:        attr,
		}
		if v, ok := r.shape(raw, rule, tctx, culture.ID, out); ok {
			if out.Texts[culture.ID] == nil {
				out.Texts[culture.ID] = make(map[string]catalog.Value)
			}
			out.Texts[culture.ID][rule.Target] = v
		}
	}
}

// shape runs the per-field pipeline: coercion, transform chain, constraints,
// emptiness. It returns the final value and whether the field is kept.
func (r *Resolver) shape(raw any, rule *FieldRule, tctx TransformContext, culture string, out *catalog.ResolvedProduct) (catalog.Value, bool) {
	v, cerr := Coerce(raw, rule)
	if cerr != nil {
		out.AddWarning(rule.Target, culture, cerr.Reason)
		return catalog.Value{}, false
	}
	if v.IsZero() {
		return catalog.Value{}, false
	}

	v, cerr = applyTransforms(v, rule, tctx)
	if cerr != nil {
		if rule.Mode != ModeSkipOnError {
			out.AddWarning(rule.Target, culture, cerr.Reason)
		}
		return catalog.Value{}, false
	}

	v, cerr = applyConstraints(v, rule)
	if cerr != nil && rule.Mode != ModeSkipOnError {
		out.AddWarning(rule.Target, culture, cerr.Reason)
	}
	if v.IsZero() {
		return catalog.Value{}, false
	}

	if v.IsEmpty() && !rule.AllowEmpty {
		return catalog.Value{}, false
	}
	return v, true
}

// selectLocalized finds the raw value for one culture of a localized rule.
// Pick order: the culture's language, the culture ID itself, the spec's
// fallback language, then the fallback chain's languages and IDs.
func (r *Resolver) selectLocalized(rule *FieldRule, culture *Culture, src *catalog.SourceProduct) (any, *catalog.Attribute, bool) {
	sel := rule.sourceFor(culture.ID)
	raw, attr, ok := sel.Resolve(src)
	if !ok {
		return nil, nil, false
	}

	candidates := r.localeCandidates(culture)

	switch v := raw.(type) {
	case catalog.LocalizedText:
		for _, cand := range candidates {
			if s, found := v.Values[cand]; found && strings.TrimSpace(s) != "" {
				return s, attr, true
			}
		}
		return nil, nil, false
	case map[string]any:
		for _, cand := range candidates {
			if inner, found := v[cand]; found && inner != nil {
				return inner, attr, true
			}
		}
		return nil, nil, false
	case map[string]string:
		for _, cand := range candidates {
			if s, found := v[cand]; found && strings.TrimSpace(s) != "" {
				return s, attr, true
			}
		}
		return nil, nil, false
	default:
		// A scalar source serves every culture as-is.
		return raw, attr, true
	}
}

// localeCandidates returns the ordered lookup keys for a culture's localized
// values.
func (r *Resolver) localeCandidates(culture *Culture) []string {
	out := make([]string, 0, 6)
	seen := make(map[string]bool)
	add := func(keys ...string) {
		for _, k := range keys {
			if k != "" && !seen[k] {
				out = append(out, k)
				seen[k] = true
			}
		}
	}
	add(culture.Language, culture.ID, r.spec.FallbackLanguage)
	for _, fb := range r.spec.FallbackFor(culture) {
		add(fb.Language, fb.ID)
	}
	return out
}

// resolveAutoMapped maps allowlisted feed attributes into dynamic fields.
// Explicit rules win over auto-mapped values for the same target.
func (r *Resolver) resolveAutoMapped(src *catalog.SourceProduct, out *catalog.ResolvedProduct) {
	auto := r.spec.AutoMap
	if !auto.Enabled {
		return
	}

	for _, code := range auto.Allowlist {
		attr, ok := src.Attribute(code)
		if !ok || attr.Value == nil {
			continue
		}

		kind, multi, ok := KindForAttributeType(attr.Type)
		if !ok {
			out.AddWarning(code, "", fmt.Sprintf("unsupported attribute type %s", attr.Type))
			continue
		}

		target := auto.TargetPrefix + code
		if _, exists := out.Core[target]; exists {
			continue
		}

		rule := FieldRule{Target: target, Kind: kind, Mode: ModeCoerce, Multi: multi, Allowed: true}
		v, cerr := Coerce(attr.Value, &rule)
		if cerr != nil {
			out.AddWarning(target, "", cerr.Reason)
			continue
		}
		if v.IsZero() || v.IsEmpty() {
			continue
		}
		out.Core[target] = v
	}
}

// resolveImages fingerprints the product's media in feed order. A fetch or
// hash failure makes the product unresolvable: skipping an image here would
// later diff as a removal and delete it downstream.
func (r *Resolver) resolveImages(ctx context.Context, src *catalog.SourceProduct, out *catalog.ResolvedProduct) error {
	if !r.spec.ImagesEnabled || len(src.Media) == 0 {
		return nil
	}
	if r.media == nil {
		return fmt.Errorf("%w: no media fingerprinter configured", ErrMediaUnresolved)
	}

	media := make([]catalog.MediaRef, len(src.Media))
	copy(media, src.Media)
	sort.SliceStable(media, func(i, j int) bool { return media[i].Position < media[j].Position })

	for i, ref := range media {
		fp, err := r.media.Fingerprint(ctx, ref)
		if err != nil {
			return fmt.Errorf("product %s media %s: %w", src.ProductNo, ref.Code, err)
		}
		out.Images = append(out.Images, catalog.Image{
			Fingerprint: fp,
			MediaCode:   ref.Code,
			Position:    i,
		})
	}
	return nil
}

// resolvePrices builds one price entry per configured rule that has a source
// value. A missing source price omits the entry; it never becomes zero.
func (r *Resolver) resolvePrices(src *catalog.SourceProduct, out *catalog.ResolvedProduct) {
	for i := range r.spec.PriceRules {
		pr := &r.spec.PriceRules[i]
		warnField := fmt.Sprintf("price[%s,%s]", pr.List, pr.Culture)

		culture, ok := r.spec.Culture(pr.Culture)
		if !ok {
			continue
		}

		raw, ok := r.priceSource(pr.Source, culture, src)
		if !ok {
			continue
		}
		price, reason := numberFrom(raw, true)
		if reason != "" {
			out.AddWarning(warnField, pr.Culture, reason)
			continue
		}

		entry := catalog.PriceEntry{Culture: pr.Culture, PriceList: pr.List, Price: price}

		if raw, ok := r.priceSource(pr.DiscountSource, culture, src); ok {
			if d, reason := numberFrom(raw, true); reason != "" {
				out.AddWarning(warnField, pr.Culture, fmt.Sprintf("discount: %s", reason))
			} else if d.Equal(pr.ClearSentinel) {
				entry.ClearDiscount = true
			} else {
				entry.DiscountPrice = &d
			}
		}

		if raw, ok := r.priceSource(pr.DiscountFromSource, culture, src); ok {
			if t, reason := timeFrom(raw, true); reason != "" {
				out.AddWarning(warnField, pr.Culture, fmt.Sprintf("discount window: %s", reason))
			} else {
				from := t.UTC().Truncate(time.Second)
				entry.DiscountFrom = &from
			}
		}
		if raw, ok := r.priceSource(pr.DiscountToSource, culture, src); ok {
			if t, reason := timeFrom(raw, true); reason != "" {
				out.AddWarning(warnField, pr.Culture, fmt.Sprintf("discount window: %s", reason))
			} else {
				to := t.UTC().Truncate(time.Second)
				entry.DiscountTo = &to
			}
		}

		if raw, ok := r.priceSource(pr.ShowSource, culture, src); ok {
			if show, reason := boolFrom(raw, true); reason != "" {
				out.AddWarning(warnField, pr.Culture, fmt.Sprintf("show flag: %s", reason))
			} else {
				entry.HideProduct = !show
			}
		}

		out.Prices = append(out.Prices, entry)
	}
}

// priceSource resolves a price rule selector, unwrapping localized containers
// with the rule culture's candidates.
func (r *Resolver) priceSource(sel Selector, culture *Culture, src *catalog.SourceProduct) (any, bool) {
	if sel.IsZero() {
		return nil, false
	}
	raw, _, ok := sel.Resolve(src)
	if !ok {
		return nil, false
	}

	candidates := r.localeCandidates(culture)
	switch v := raw.(type) {
	case catalog.LocalizedText:
		for _, cand := range candidates {
			if s, found := v.Values[cand]; found && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
		return nil, false
	case map[string]any:
		for _, cand := range candidates {
			if inner, found := v[cand]; found && inner != nil {
				return inner, true
			}
		}
		return nil, false
	default:
		return raw, true
	}
}
