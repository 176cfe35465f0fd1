package mapping

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/shopsync/internal/domain/catalog"
)

func strictRule(kind catalog.Kind) *FieldRule {
	return &FieldRule{Target: "F", Kind: kind, Mode: ModeStrict, Allowed: true}
}

func coerceRule(kind catalog.Kind) *FieldRule {
	return &FieldRule{Target: "F", Kind: kind, Mode: ModeCoerce, Allowed: true}
}

func TestCoerceStrictRejectsTypeMismatch(t *testing.T) {
	tests := []struct {
		name string
		kind catalog.Kind
		raw  any
	}{
		{"number from string", catalog.KindNumber, "199.00"},
		{"number from bool", catalog.KindNumber, true},
		{"text from number", catalog.KindText, json.Number("42")},
		{"boolean from string", catalog.KindBoolean, "true"},
		{"date from slash format", catalog.KindDate, "02/01/2024"},
		{"enum from number", catalog.KindEnum, json.Number("4")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, cerr := Coerce(tt.raw, strictRule(tt.kind))
			require.NotNil(t, cerr, "strict mismatch must produce a warning")
			assert.True(t, v.IsZero(), "field must be excluded")
		})
	}
}

func TestCoerceConvertsLeniently(t *testing.T) {
	tests := []struct {
		name string
		kind catalog.Kind
		raw  any
		want catalog.Value
	}{
		{"numeric string", catalog.KindNumber, "199.00", catalog.NumberValue(decimal.RequireFromString("199.00"))},
		{"json number", catalog.KindNumber, json.Number("27.5"), catalog.NumberValue(decimal.RequireFromString("27.5"))},
		{"number to text", catalog.KindText, json.Number("42"), catalog.TextValue("42")},
		{"bool words", catalog.KindBoolean, "Yes", catalog.BoolValue(true)},
		{"bool zero", catalog.KindBoolean, "0", catalog.BoolValue(false)},
		{"rfc3339", catalog.KindDate, "2024-03-01T08:30:00Z", catalog.DateValue(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC))},
		{"plain date", catalog.KindDate, "2024-03-01", catalog.DateValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))},
		{"enum from number", catalog.KindEnum, json.Number("4"), catalog.EnumValue("4")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, cerr := Coerce(tt.raw, coerceRule(tt.kind))
			require.Nil(t, cerr)
			assert.True(t, tt.want.Equal(v), "got %s want %s", v, tt.want)
		})
	}
}

func TestCoerceRejectsLocaleDependentNumbers(t *testing.T) {
	v, cerr := Coerce("1 199,50", coerceRule(catalog.KindNumber))
	require.NotNil(t, cerr)
	assert.True(t, v.IsZero())
}

func TestCoerceBooleanNeverBecomesNumber(t *testing.T) {
	v, cerr := Coerce(true, coerceRule(catalog.KindNumber))
	require.NotNil(t, cerr)
	assert.True(t, v.IsZero())
}

func TestCoerceFallsBackToDefault(t *testing.T) {
	rule := coerceRule(catalog.KindNumber)
	rule.Default = catalog.NumberValue(decimal.NewFromInt(1))

	v, cerr := Coerce("not-a-number", rule)
	require.Nil(t, cerr, "default absorbs the failure")
	assert.True(t, catalog.NumberValue(decimal.NewFromInt(1)).Equal(v))
}

func TestCoerceSkipOnErrorIsSilent(t *testing.T) {
	rule := &FieldRule{Target: "F", Kind: catalog.KindNumber, Mode: ModeSkipOnError, Allowed: true}

	v, cerr := Coerce("not-a-number", rule)
	assert.Nil(t, cerr)
	assert.True(t, v.IsZero())
}

func TestCoerceMultiEnum(t *testing.T) {
	rule := coerceRule(catalog.KindEnum)
	rule.Multi = true

	v, cerr := Coerce([]any{"150", json.Number("151")}, rule)
	require.Nil(t, cerr)
	assert.Equal(t, []string{"150", "151"}, v.List())

	// Lenient mode wraps a scalar into a single-element list.
	v, cerr = Coerce("150", rule)
	require.Nil(t, cerr)
	assert.Equal(t, []string{"150"}, v.List())

	strict := strictRule(catalog.KindEnum)
	strict.Multi = true
	v, cerr = Coerce("150", strict)
	require.NotNil(t, cerr)
	assert.True(t, v.IsZero())
}

func TestApplyConstraintsTruncatesText(t *testing.T) {
	rule := coerceRule(catalog.KindText)
	rule.Constraints = Constraints{MaxLength: 5}

	v, cerr := applyConstraints(catalog.TextValue("abcdefgh"), rule)
	require.NotNil(t, cerr)
	assert.Equal(t, "abcde", v.Text())
	assert.Contains(t, cerr.Reason, "truncated")
}

func TestApplyConstraintsNumericBounds(t *testing.T) {
	minVal := decimal.NewFromInt(0)
	maxVal := decimal.NewFromInt(100)
	rule := coerceRule(catalog.KindNumber)
	rule.Constraints = Constraints{Min: &minVal, Max: &maxVal}

	v, cerr := applyConstraints(catalog.NumberValue(decimal.NewFromInt(50)), rule)
	assert.Nil(t, cerr)
	assert.False(t, v.IsZero())

	v, cerr = applyConstraints(catalog.NumberValue(decimal.NewFromInt(-1)), rule)
	require.NotNil(t, cerr)
	assert.True(t, v.IsZero())

	v, cerr = applyConstraints(catalog.NumberValue(decimal.NewFromInt(101)), rule)
	require.NotNil(t, cerr)
	assert.True(t, v.IsZero())
}

func TestApplyConstraintsRegex(t *testing.T) {
	rule := coerceRule(catalog.KindText)
	rule.Constraints = Constraints{Regex: regexp.MustCompile(`^[A-Z]{2}-\d+$`)}

	v, cerr := applyConstraints(catalog.TextValue("SE-1092"), rule)
	assert.Nil(t, cerr)
	assert.False(t, v.IsZero())

	v, cerr = applyConstraints(catalog.TextValue("nope"), rule)
	require.NotNil(t, cerr)
	assert.True(t, v.IsZero())
}
