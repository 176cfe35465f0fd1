package mapping

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// stubFingerprinter hashes nothing; it returns canned fingerprints per media
// code and optionally fails for one of them.
type stubFingerprinter struct {
	prints   map[string]string
	failCode string
}

func (s *stubFingerprinter) Fingerprint(_ context.Context, ref catalog.MediaRef) (string, error) {
	if ref.Code == s.failCode {
		return "", errors.New("connection reset")
	}
	if fp, ok := s.prints[ref.Code]; ok {
		return fp, nil
	}
	return "fp-" + ref.Code, nil
}

const resolverDoc = `
version: 1
cultures: [sv-SE, nb-NO, da-DK]
culture_fallbacks:
  da-DK: nb-NO
fallback_language: sv
images:
  enabled: true
fields:
  - source: texts[name_1]
    target: Name
    kind: localized-text
    mode: coerce
    allow: true
  - source: texts[desc_long]
    target: Description
    kind: localized-text
    mode: coerce
    allow: true
    transforms: [newline_to_br]
  - source: attributes[monitor_disp]
    target: MonitorSize
    kind: number
    mode: strict
    allow: true
  - source: attributes[atr_colour]
    target: Colour
    kind: enum
    mode: coerce
    allow: true
    transforms: [label_lookup]
  - source: attributes[discontinued]
    target: Discontinued
    kind: boolean
    mode: coerce
    allow: true
  - source: attributes[secret_cost]
    target: Cost
    kind: number
    mode: coerce
    allow: false
price_lists:
  - list: default
    culture: sv-SE
    source: price.sv-SE
    discount_source: attributes[b2c_discount_se]
    discount_from: attributes[b2c_discount_from]
    discount_to: attributes[b2c_discount_to]
    show: attributes[b2c_show_se]
  - list: default
    culture: nb-NO
    source: price.nb-NO
dynamic_fields:
  auto_map: true
  allowlist: [tech_weight]
`

func sourceProduct1092() *catalog.SourceProduct {
	return &catalog.SourceProduct{
		ProductNo: "1092-10",
		Action:    "Update",
		Language:  "sv",
		ChangedAt: time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC),
		Fields: map[string]any{
			"price": map[string]any{
				"sv-SE": "199.00",
				"nb-NO": 249.0,
			},
			"stock": 12,
		},
		Attributes: map[string]catalog.Attribute{
			"monitor_disp": {Code: "monitor_disp", Type: catalog.AttrTypeFloat, Value: 27.0},
			"atr_colour": {
				Code: "atr_colour", Type: catalog.AttrTypeRegister, Value: "4",
				Options: map[string]map[string]string{
					"4": {"sv": "Vit", "nb": "Hvit"},
				},
			},
			"discontinued":      {Code: "discontinued", Type: catalog.AttrTypeBool, Value: "false"},
			"secret_cost":       {Code: "secret_cost", Type: catalog.AttrTypeFloat, Value: 80.0},
			"unmapped_internal": {Code: "unmapped_internal", Type: catalog.AttrTypeText, Value: "do-not-publish"},
			"tech_weight":       {Code: "tech_weight", Type: catalog.AttrTypeFloat, Value: "1.25"},
			"b2c_discount_se":   {Code: "b2c_discount_se", Type: catalog.AttrTypeFloat, Value: 149.0},
			"b2c_discount_from": {Code: "b2c_discount_from", Type: catalog.AttrTypeDate, Value: "2024-03-01"},
			"b2c_discount_to":   {Code: "b2c_discount_to", Type: catalog.AttrTypeDate, Value: "2024-03-31"},
			"b2c_show_se":       {Code: "b2c_show_se", Type: catalog.AttrTypeBool, Value: "true"},
		},
		Texts: map[string]catalog.LocalizedText{
			"name_1": {Code: "name_1", Values: map[string]string{
				"sv": "Widget",
				"nb": "Widget NO",
			}},
			"desc_long": {Code: "desc_long", Values: map[string]string{
				"sv": "Rad 1\nRad 2",
			}},
		},
		Media: []catalog.MediaRef{
			{Code: "m2", URL: "https://cdn/img2", Position: 2},
			{Code: "m1", URL: "https://cdn/img1", Position: 1},
		},
	}
}

func mustParse(t *testing.T, doc string) *Spec {
	t.Helper()
	spec, err := Parse([]byte(doc))
	require.NoError(t, err)
	return spec
}

func TestResolveEndToEnd(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	out, err := r.Resolve(context.Background(), sourceProduct1092())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "1092-10", out.ProductNo)

	// Core fields.
	assert.True(t, out.Core["MonitorSize"].Equal(catalog.NumberValue(decimal.NewFromInt(27))))
	assert.Equal(t, "Vit", out.Core["Colour"].Text(), "label lookup resolves via the feed language")
	assert.True(t, out.Core["Discontinued"].Equal(catalog.BoolValue(false)))

	// Localized fields: sv-SE direct, nb-NO via its own language, da-DK via
	// the fallback language (which precedes the explicit fallback chain).
	assert.Equal(t, "Widget", out.Texts["sv-SE"]["Name"].Text())
	assert.Equal(t, "Widget NO", out.Texts["nb-NO"]["Name"].Text())
	assert.Equal(t, "Widget", out.Texts["da-DK"]["Name"].Text())
	assert.Equal(t, "Rad 1<br/>Rad 2", out.Texts["sv-SE"]["Description"].Text())

	// Prices: one entry per configured (culture, list) pair with a source.
	require.Len(t, out.Prices, 2)
	se, ok := out.PriceByKey(catalog.PriceKey{Culture: "sv-SE", PriceList: "default"})
	require.True(t, ok)
	assert.True(t, se.Price.Equal(decimal.RequireFromString("199.00")))
	require.NotNil(t, se.DiscountPrice)
	assert.True(t, se.DiscountPrice.Equal(decimal.NewFromInt(149)))
	require.NotNil(t, se.DiscountFrom)
	assert.True(t, se.DiscountFrom.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, se.HideProduct)

	no, ok := out.PriceByKey(catalog.PriceKey{Culture: "nb-NO", PriceList: "default"})
	require.True(t, ok)
	assert.True(t, no.Price.Equal(decimal.NewFromInt(249)))
	assert.Nil(t, no.DiscountPrice)

	// Images in feed position order, identified by fingerprint.
	require.Len(t, out.Images, 2)
	assert.Equal(t, "fp-m1", out.Images[0].Fingerprint)
	assert.Equal(t, 0, out.Images[0].Position)
	assert.Equal(t, "fp-m2", out.Images[1].Fingerprint)
	assert.Equal(t, 1, out.Images[1].Position)

	// Auto-mapped dynamic field from the allowlist.
	assert.True(t, out.Core["tech_weight"].Equal(catalog.NumberValue(decimal.RequireFromString("1.25"))))

	assert.Empty(t, out.Warnings)
}

func TestResolveEnforcesAllowlist(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	out, err := r.Resolve(context.Background(), sourceProduct1092())
	require.NoError(t, err)

	// A rule with allow false resolves nothing, and an attribute without any
	// rule never surfaces anywhere in the result.
	_, costMapped := out.Core["Cost"]
	assert.False(t, costMapped)
	for target := range out.Core {
		assert.NotContains(t, target, "unmapped_internal")
		assert.NotEqual(t, "do-not-publish", out.Core[target].Text())
	}

	// The top-level price field feeds price entries only, never core.
	_, priceInCore := out.Core["price"]
	assert.False(t, priceInCore)
	_, stockInCore := out.Core["stock"]
	assert.False(t, stockInCore, "fields without rules stay unmapped")
}

func TestResolveLocaleFallbackOrder(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	src := sourceProduct1092()
	src.Media = nil
	// Only the fallback language has the value now.
	src.Texts["name_1"] = catalog.LocalizedText{Code: "name_1", Values: map[string]string{"sv": "Endast svenska"}}

	out, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "Endast svenska", out.Texts["sv-SE"]["Name"].Text())
	assert.Equal(t, "Endast svenska", out.Texts["nb-NO"]["Name"].Text(), "nb-NO falls back to the spec fallback language")
	assert.Equal(t, "Endast svenska", out.Texts["da-DK"]["Name"].Text())

	// A culture-keyed value beats the fallback chain.
	src.Texts["name_1"] = catalog.LocalizedText{Code: "name_1", Values: map[string]string{
		"sv":    "Svenska",
		"nb-NO": "Norsk bokmål",
	}}
	out, err = r.Resolve(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "Norsk bokmål", out.Texts["nb-NO"]["Name"].Text())

	// The explicit fallback chain carries a culture-only value: da-DK falls
	// back to nb-NO when neither its own keys nor the fallback language hit.
	src.Texts["name_1"] = catalog.LocalizedText{Code: "name_1", Values: map[string]string{"nb": "Norsk"}}
	out, err = r.Resolve(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "Norsk", out.Texts["da-DK"]["Name"].Text())
	_, found := out.Texts["sv-SE"]["Name"]
	assert.False(t, found, "sv-SE has no candidate and stays unset")

	// No candidate at all leaves the culture unset rather than erroring.
	src.Texts["name_1"] = catalog.LocalizedText{Code: "name_1", Values: map[string]string{"fi": "Suomeksi"}}
	out, err = r.Resolve(context.Background(), src)
	require.NoError(t, err)
	_, found = out.Texts["sv-SE"]["Name"]
	assert.False(t, found)
}

func TestResolveCoercionFailureBecomesWarning(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	src := sourceProduct1092()
	src.Media = nil
	// Strict number rule fed a string must exclude the field with a warning.
	src.Attributes["monitor_disp"] = catalog.Attribute{
		Code: "monitor_disp", Type: catalog.AttrTypeFloat, Value: "27 tum",
	}

	out, err := r.Resolve(context.Background(), src)
	require.NoError(t, err, "field problems never fail the product")

	_, mapped := out.Core["MonitorSize"]
	assert.False(t, mapped)
	require.NotEmpty(t, out.Warnings)

	var found bool
	for _, w := range out.Warnings {
		if w.Field == "MonitorSize" {
			found = true
		}
	}
	assert.True(t, found, "the excluded field is named in the warnings")
}

func TestResolveMediaFailureFailsProduct(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{failCode: "m2"})

	_, err := r.Resolve(context.Background(), sourceProduct1092())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1092-10")
	assert.Contains(t, err.Error(), "m2")
}

func TestResolveWithoutFingerprinter(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, nil)

	_, err := r.Resolve(context.Background(), sourceProduct1092())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMediaUnresolved)

	// No media on the product means the missing fingerprinter is irrelevant.
	src := sourceProduct1092()
	src.Media = nil
	_, err = r.Resolve(context.Background(), src)
	assert.NoError(t, err)
}

func TestResolveDiscountClearSentinel(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	src := sourceProduct1092()
	src.Media = nil
	src.Attributes["b2c_discount_se"] = catalog.Attribute{
		Code: "b2c_discount_se", Type: catalog.AttrTypeFloat, Value: -1,
	}

	out, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)

	se, ok := out.PriceByKey(catalog.PriceKey{Culture: "sv-SE", PriceList: "default"})
	require.True(t, ok)
	assert.True(t, se.ClearDiscount)
	assert.Nil(t, se.DiscountPrice, "the sentinel clears instead of publishing a negative price")
}

func TestResolveHideProductFromShowFlag(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	src := sourceProduct1092()
	src.Media = nil
	src.Attributes["b2c_show_se"] = catalog.Attribute{
		Code: "b2c_show_se", Type: catalog.AttrTypeBool, Value: "false",
	}

	out, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)

	se, ok := out.PriceByKey(catalog.PriceKey{Culture: "sv-SE", PriceList: "default"})
	require.True(t, ok)
	assert.True(t, se.HideProduct)
}

func TestResolveMissingPriceOmitsEntry(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	src := sourceProduct1092()
	src.Media = nil
	src.Fields["price"] = map[string]any{"sv-SE": "199.00"}

	out, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, out.Prices, 1, "a missing source price omits the entry, never writes zero")
	_, ok := out.PriceByKey(catalog.PriceKey{Culture: "nb-NO", PriceList: "default"})
	assert.False(t, ok)
}

func TestResolveUnparsablePriceWarns(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	src := sourceProduct1092()
	src.Media = nil
	src.Fields["price"] = map[string]any{"sv-SE": "1 199,50", "nb-NO": 249.0}

	out, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)

	_, ok := out.PriceByKey(catalog.PriceKey{Culture: "sv-SE", PriceList: "default"})
	assert.False(t, ok)
	require.NotEmpty(t, out.Warnings)
	assert.Equal(t, "price[default,sv-SE]", out.Warnings[0].Field)
}

func TestResolveAutoMapSkipsExplicitTargets(t *testing.T) {
	doc := `
version: 1
cultures: [sv-SE]
fields:
  - source: attributes[tech_weight]
    target: tech_weight
    kind: text
    mode: coerce
    allow: true
dynamic_fields:
  auto_map: true
  allowlist: [tech_weight, tech_depth]
`
	spec := mustParse(t, doc)
	r := NewResolver(spec, nil)

	src := &catalog.SourceProduct{
		ProductNo: "77",
		Language:  "sv",
		Attributes: map[string]catalog.Attribute{
			"tech_weight": {Code: "tech_weight", Type: catalog.AttrTypeFloat, Value: 1.25},
			"tech_depth":  {Code: "tech_depth", Type: catalog.AttrTypeInt, Value: 40},
		},
	}

	out, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)

	// The explicit rule coerced to text; auto-map must not overwrite it with
	// the inferred number kind.
	assert.Equal(t, catalog.KindText, out.Core["tech_weight"].Kind())
	assert.Equal(t, catalog.KindNumber, out.Core["tech_depth"].Kind())
}

func TestResolveDeterministicAcrossRuns(t *testing.T) {
	spec := mustParse(t, resolverDoc)
	r := NewResolver(spec, &stubFingerprinter{})

	a, err := r.Resolve(context.Background(), sourceProduct1092())
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), sourceProduct1092())
	require.NoError(t, err)

	assert.Equal(t, a.Core, b.Core)
	assert.Equal(t, a.Texts, b.Texts)
	assert.Equal(t, a.Images, b.Images)
	for i := range a.Prices {
		assert.True(t, a.Prices[i].Equal(b.Prices[i]), fmt.Sprintf("price entry %d differs", i))
	}
}
