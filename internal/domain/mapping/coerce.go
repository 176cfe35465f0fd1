package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// Type coercion engine. Coerce never panics and never returns an error to
// abort a product: every call has a definite outcome so the resolver can
// proceed deterministically.
//
// Outcomes:
//   - (value, nil)       success, value carries the rule's kind
//   - (zero, *CoercionError)  field excluded, warning recorded
//   - (zero, nil)        field excluded silently (skip-on-error)

// Coerce converts a raw source value into the rule's kind per the rule's
// coercion mode. The zero Value signals exclusion.
func Coerce(raw any, rule *FieldRule) (catalog.Value, *CoercionError) {
	v, reason := convert(raw, rule, rule.Mode != ModeStrict)
	if reason == "" {
		return v, nil
	}

	switch rule.Mode {
	case ModeCoerce:
		if !rule.Default.IsZero() {
			return rule.Default, nil
		}
	case ModeSkipOnError:
		return catalog.Value{}, nil
	}
	return catalog.Value{}, &CoercionError{Field: rule.Target, Raw: raw, Reason: reason}
}

// convert attempts the kind conversion. lenient enables the best-effort rules
// of coerce / skip-on-error modes. An empty reason means success.
func convert(raw any, rule *FieldRule, lenient bool) (catalog.Value, string) {
	switch rule.Kind {
	case catalog.KindText:
		s, reason := stringFrom(raw, lenient)
		if reason != "" {
			return catalog.Value{}, reason
		}
		return catalog.TextValue(s), ""

	case catalog.KindLocalizedText:
		s, reason := stringFrom(raw, lenient)
		if reason != "" {
			return catalog.Value{}, reason
		}
		return catalog.LocalizedValue(s), ""

	case catalog.KindNumber:
		d, reason := numberFrom(raw, lenient)
		if reason != "" {
			return catalog.Value{}, reason
		}
		return catalog.NumberValue(d), ""

	case catalog.KindBoolean:
		b, reason := boolFrom(raw, lenient)
		if reason != "" {
			return catalog.Value{}, reason
		}
		return catalog.BoolValue(b), ""

	case catalog.KindDate:
		t, reason := timeFrom(raw, lenient)
		if reason != "" {
			return catalog.Value{}, reason
		}
		return catalog.DateValue(t), ""

	case catalog.KindEnum:
		if rule.Multi {
			codes, reason := stringListFrom(raw, lenient)
			if reason != "" {
				return catalog.Value{}, reason
			}
			return catalog.EnumListValue(codes), ""
		}
		s, reason := enumCodeFrom(raw, lenient)
		if reason != "" {
			return catalog.Value{}, reason
		}
		return catalog.EnumValue(s), ""
	}
	return catalog.Value{}, fmt.Sprintf("kind %s is not coercible", rule.Kind)
}

func stringFrom(raw any, lenient bool) (string, string) {
	switch v := raw.(type) {
	case string:
		return v, ""
	case json.Number:
		if lenient {
			return v.String(), ""
		}
	case int:
		if lenient {
			return strconv.Itoa(v), ""
		}
	case int64:
		if lenient {
			return strconv.FormatInt(v, 10), ""
		}
	case float64:
		if lenient {
			return decimal.NewFromFloat(v).String(), ""
		}
	case bool:
		if lenient {
			return strconv.FormatBool(v), ""
		}
	}
	return "", fmt.Sprintf("cannot represent %T as text", raw)
}

func numberFrom(raw any, lenient bool) (decimal.Decimal, string) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, ""
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, fmt.Sprintf("invalid number %q", v.String())
		}
		return d, ""
	case int:
		return decimal.NewFromInt(int64(v)), ""
	case int64:
		return decimal.NewFromInt(v), ""
	case float64:
		return decimal.NewFromFloat(v), ""
	case string:
		if lenient {
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return decimal.Zero, fmt.Sprintf("string %q is not a locale-invariant number", v)
			}
			return d, ""
		}
	case bool:
		// Booleans never convert to numbers, even leniently.
		return decimal.Zero, "boolean cannot become a number"
	}
	return decimal.Zero, fmt.Sprintf("cannot represent %T as number", raw)
}

func boolFrom(raw any, lenient bool) (bool, string) {
	switch v := raw.(type) {
	case bool:
		return v, ""
	case string:
		if lenient {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes":
				return true, ""
			case "false", "0", "no":
				return false, ""
			}
			return false, fmt.Sprintf("string %q is not a boolean", v)
		}
	case json.Number:
		if lenient {
			switch v.String() {
			case "1":
				return true, ""
			case "0":
				return false, ""
			}
			return false, fmt.Sprintf("number %s is not a boolean", v.String())
		}
	case int:
		if lenient && (v == 0 || v == 1) {
			return v == 1, ""
		}
	case float64:
		if lenient && (v == 0 || v == 1) {
			return v == 1, ""
		}
	}
	return false, fmt.Sprintf("cannot represent %T as boolean", raw)
}

// timeFrom accepts ISO-8601 only: RFC 3339 always, plain dates (midnight UTC)
// when lenient.
func timeFrom(raw any, lenient bool) (time.Time, string) {
	switch v := raw.(type) {
	case time.Time:
		return v, ""
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, ""
		}
		if lenient {
			if t, err := time.Parse("2006-01-02", s); err == nil {
				return t.UTC(), ""
			}
		}
		return time.Time{}, fmt.Sprintf("string %q is not an ISO-8601 date", v)
	}
	return time.Time{}, fmt.Sprintf("cannot represent %T as date", raw)
}

func enumCodeFrom(raw any, lenient bool) (string, string) {
	switch v := raw.(type) {
	case string:
		return v, ""
	case json.Number:
		if lenient {
			return v.String(), ""
		}
	case int:
		if lenient {
			return strconv.Itoa(v), ""
		}
	case float64:
		if lenient {
			return decimal.NewFromFloat(v).String(), ""
		}
	}
	return "", fmt.Sprintf("cannot represent %T as enum code", raw)
}

func stringListFrom(raw any, lenient bool) ([]string, string) {
	switch v := raw.(type) {
	case []string:
		return v, ""
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, reason := enumCodeFrom(item, lenient)
			if reason != "" {
				return nil, reason
			}
			out = append(out, s)
		}
		return out, ""
	default:
		if lenient {
			s, reason := enumCodeFrom(raw, true)
			if reason != "" {
				return nil, reason
			}
			return []string{s}, ""
		}
	}
	return nil, fmt.Sprintf("cannot represent %T as enum code list", raw)
}

// applyConstraints enforces the rule's constraints on a coerced value.
// Over-long text is truncated and kept; range and pattern violations return
// the zero Value. The accompanying CoercionError describes the breach; the
// resolver decides whether it becomes a warning based on the rule's mode.
func applyConstraints(v catalog.Value, rule *FieldRule) (catalog.Value, *CoercionError) {
	c := rule.Constraints
	if c.IsZero() {
		return v, nil
	}

	switch v.Kind() {
	case catalog.KindText, catalog.KindLocalizedText:
		s := v.Text()
		if c.MaxLength > 0 {
			if runes := []rune(s); len(runes) > c.MaxLength {
				truncated := string(runes[:c.MaxLength])
				kept := catalog.TextValue(truncated)
				if v.Kind() == catalog.KindLocalizedText {
					kept = catalog.LocalizedValue(truncated)
				}
				return kept, &CoercionError{
					Field:  rule.Target,
					Raw:    s,
					Reason: fmt.Sprintf("truncated to %d characters", c.MaxLength),
				}
			}
		}
		if c.Regex != nil && !c.Regex.MatchString(s) {
			return catalog.Value{}, &CoercionError{
				Field:  rule.Target,
				Raw:    s,
				Reason: fmt.Sprintf("does not match pattern %s", c.Regex.String()),
			}
		}

	case catalog.KindNumber:
		n := v.Number()
		if c.Min != nil && n.LessThan(*c.Min) {
			return catalog.Value{}, &CoercionError{
				Field:  rule.Target,
				Raw:    n.String(),
				Reason: fmt.Sprintf("below minimum %s", c.Min.String()),
			}
		}
		if c.Max != nil && n.GreaterThan(*c.Max) {
			return catalog.Value{}, &CoercionError{
				Field:  rule.Target,
				Raw:    n.String(),
				Reason: fmt.Sprintf("above maximum %s", c.Max.String()),
			}
		}
	}
	return v, nil
}
