package mapping

import (
	"fmt"
	"strings"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// Transform names accepted in mapping documents.
const (
	TransformNewlineToBr = "newline_to_br"
	TransformFormatPrice = "format_price"
	TransformJoinList    = "join_list"
	TransformLabelLookup = "label_lookup"
)

// TransformContext carries the per-field surroundings a transform may need.
type TransformContext struct {
	// Culture is the culture being resolved, empty for core fields.
	Culture string

	// FeedLanguage is the language of the record being resolved.
	FeedLanguage string

	// FallbackLanguage is the spec's fallback feed language.
	FallbackLanguage string

	// Attribute is the source attribute when the rule addressed one; label
	// lookups need its option labels.
	Attribute *catalog.Attribute
}

// TransformFunc rewrites a coerced value. A transform error excludes the
// field per the rule's coercion mode, exactly like a coercion failure.
type TransformFunc func(catalog.Value, TransformContext) (catalog.Value, error)

var transformRegistry = map[string]TransformFunc{
	TransformNewlineToBr: newlineToBr,
	TransformFormatPrice: formatPrice,
	TransformJoinList:    joinList,
	TransformLabelLookup: labelLookup,
}

// TransformByName returns the registered transform. The loader rejects
// unknown names at validation time.
func TransformByName(name string) (TransformFunc, bool) {
	fn, ok := transformRegistry[name]
	return fn, ok
}

// applyTransforms runs the rule's chain in order.
func applyTransforms(v catalog.Value, rule *FieldRule, tctx TransformContext) (catalog.Value, *CoercionError) {
	for i, fn := range rule.Transforms {
		out, err := fn(v, tctx)
		if err != nil {
			return catalog.Value{}, &CoercionError{
				Field:   rule.Target,
				Culture: tctx.Culture,
				Raw:     v.String(),
				Reason:  fmt.Sprintf("transform %s: %v", rule.TransformNames[i], err),
			}
		}
		v = out
	}
	return v, nil
}

// newlineToBr rewrites text newlines as HTML line breaks.
func newlineToBr(v catalog.Value, _ TransformContext) (catalog.Value, error) {
	switch v.Kind() {
	case catalog.KindText, catalog.KindLocalizedText:
	default:
		return catalog.Value{}, fmt.Errorf("requires text input, got %s", v.Kind())
	}
	s := strings.ReplaceAll(v.Text(), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "<br/>")
	if v.Kind() == catalog.KindLocalizedText {
		return catalog.LocalizedValue(s), nil
	}
	return catalog.TextValue(s), nil
}

// formatPrice renders a number as a fixed four-decimal text, rounding halves
// away from zero.
func formatPrice(v catalog.Value, _ TransformContext) (catalog.Value, error) {
	if v.Kind() != catalog.KindNumber {
		return catalog.Value{}, fmt.Errorf("requires number input, got %s", v.Kind())
	}
	return catalog.TextValue(v.Number().StringFixed(4)), nil
}

// joinList flattens a multi-valued enum into comma-joined text.
func joinList(v catalog.Value, _ TransformContext) (catalog.Value, error) {
	if v.Kind() != catalog.KindEnum || !v.IsMulti() {
		return catalog.Value{}, fmt.Errorf("requires multi-valued enum input, got %s", v.Kind())
	}
	return catalog.TextValue(strings.Join(v.List(), ",")), nil
}

// labelLookup replaces register codes with their display labels, preferring
// the feed language and falling back to the spec's fallback language. Codes
// without a label pass through unchanged.
func labelLookup(v catalog.Value, tctx TransformContext) (catalog.Value, error) {
	if v.Kind() != catalog.KindEnum {
		return catalog.Value{}, fmt.Errorf("requires enum input, got %s", v.Kind())
	}
	if tctx.Attribute == nil {
		return catalog.Value{}, fmt.Errorf("no source attribute to look labels up in")
	}

	lookup := func(code string) string {
		if label, ok := tctx.Attribute.OptionLabel(code, tctx.FeedLanguage, tctx.FallbackLanguage); ok {
			return label
		}
		return code
	}

	if v.IsMulti() {
		labels := make([]string, 0, len(v.List()))
		for _, code := range v.List() {
			labels = append(labels, lookup(code))
		}
		return catalog.EnumListValue(labels), nil
	}
	return catalog.TextValue(lookup(v.Text())), nil
}
