package catalog

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Kind
// ---------------------------------------------------------------------------

// Kind classifies a mapped field's target representation. The set is closed:
// the coercion engine dispatches on it and rejects anything else at load time.
type Kind string

const (
	KindText          Kind = "text"
	KindNumber        Kind = "number"
	KindBoolean       Kind = "boolean"
	KindDate          Kind = "date"
	KindEnum          Kind = "enum"
	KindLocalizedText Kind = "localized-text"
	KindImageList     Kind = "image-list"
	KindPriceList     Kind = "price-list"
)

// IsValid checks if the kind is one of the known values
func (k Kind) IsValid() bool {
	switch k {
	case KindText, KindNumber, KindBoolean, KindDate, KindEnum,
		KindLocalizedText, KindImageList, KindPriceList:
		return true
	}
	return false
}

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Value is a coerced, target-typed field value. It is a tagged union over the
// scalar kinds; image lists and price lists are structural and live in their
// own ResolvedProduct partitions, never inside a Value.
//
// Values are immutable once constructed. Equality is typed: numbers compare by
// numeric value regardless of scale, dates by instant, so formatting
// differences normalized away by coercion can never produce a diff.
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
	b    bool
	t    time.Time
	list []string
}

// TextValue returns a text value
func TextValue(s string) Value {
	return Value{kind: KindText, str: s}
}

// NumberValue returns a numeric value
func NumberValue(d decimal.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

// BoolValue returns a boolean value
func BoolValue(b bool) Value {
	return Value{kind: KindBoolean, b: b}
}

// DateValue returns a date value. The instant is normalized to UTC with
// whole-second precision so serialized snapshots are stable.
func DateValue(t time.Time) Value {
	return Value{kind: KindDate, t: t.UTC().Truncate(time.Second)}
}

// EnumValue returns a single-code enum value
func EnumValue(code string) Value {
	return Value{kind: KindEnum, str: code}
}

// EnumListValue returns a multi-code enum value
func EnumListValue(codes []string) Value {
	if codes == nil {
		codes = []string{}
	}
	return Value{kind: KindEnum, list: codes}
}

// LocalizedValue returns a localized text value for one culture. It shares the
// text representation; the culture is carried by the Texts partition key.
func LocalizedValue(s string) Value {
	return Value{kind: KindLocalizedText, str: s}
}

// Kind returns the value's kind
func (v Value) Kind() Kind { return v.kind }

// Text returns the string representation for text, enum and localized kinds
func (v Value) Text() string { return v.str }

// Number returns the numeric representation
func (v Value) Number() decimal.Decimal { return v.num }

// Bool returns the boolean representation
func (v Value) Bool() bool { return v.b }

// Date returns the time representation
func (v Value) Date() time.Time { return v.t }

// List returns the code list for multi-valued enums
func (v Value) List() []string { return v.list }

// IsMulti reports whether an enum value carries multiple codes
func (v Value) IsMulti() bool { return v.kind == KindEnum && v.list != nil }

// IsZero reports whether the value is the uninitialized zero Value
func (v Value) IsZero() bool { return v.kind == "" }

// IsEmpty reports whether the value carries no payload: a blank string for
// text-like kinds or an empty code list for multi enums. Numbers, booleans and
// dates are never empty.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindText, KindEnum, KindLocalizedText:
		if v.list != nil {
			return len(v.list) == 0
		}
		return strings.TrimSpace(v.str) == ""
	case "":
		return true
	}
	return false
}

// Equal reports typed equality between two values
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num.Equal(o.num)
	case KindBoolean:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	case KindText, KindEnum, KindLocalizedText:
		if (v.list == nil) != (o.list == nil) {
			return false
		}
		if v.list != nil {
			return slices.Equal(v.list, o.list)
		}
		return v.str == o.str
	}
	return false
}

// String renders the value for logs and artifacts
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindDate:
		return v.t.Format(time.RFC3339)
	case KindText, KindEnum, KindLocalizedText:
		if v.list != nil {
			return strings.Join(v.list, ",")
		}
		return v.str
	}
	return ""
}

// valueJSON is the wire form of Value. Exactly one payload field is set; the
// layout is fixed so identical values always serialize to identical bytes.
type valueJSON struct {
	Kind Kind     `json:"kind"`
	Str  *string  `json:"str,omitempty"`
	Num  *string  `json:"num,omitempty"`
	Bool *bool    `json:"bool,omitempty"`
	Time *string  `json:"time,omitempty"`
	List []string `json:"list,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind}
	switch v.kind {
	case KindNumber:
		s := v.num.String()
		out.Num = &s
	case KindBoolean:
		b := v.b
		out.Bool = &b
	case KindDate:
		s := v.t.Format(time.RFC3339)
		out.Time = &s
	case KindText, KindEnum, KindLocalizedText:
		if v.list != nil {
			out.List = v.list
		} else {
			s := v.str
			out.Str = &s
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Kind.IsValid() {
		return fmt.Errorf("catalog: unknown value kind %q", in.Kind)
	}
	out := Value{kind: in.Kind}
	switch in.Kind {
	case KindNumber:
		if in.Num == nil {
			return fmt.Errorf("catalog: number value missing payload")
		}
		d, err := decimal.NewFromString(*in.Num)
		if err != nil {
			return fmt.Errorf("catalog: invalid number payload %q: %w", *in.Num, err)
		}
		out.num = d
	case KindBoolean:
		if in.Bool == nil {
			return fmt.Errorf("catalog: boolean value missing payload")
		}
		out.b = *in.Bool
	case KindDate:
		if in.Time == nil {
			return fmt.Errorf("catalog: date value missing payload")
		}
		t, err := time.Parse(time.RFC3339, *in.Time)
		if err != nil {
			return fmt.Errorf("catalog: invalid date payload %q: %w", *in.Time, err)
		}
		out.t = t.UTC()
	case KindText, KindEnum, KindLocalizedText:
		if in.List != nil {
			out.list = in.List
		} else if in.Str != nil {
			out.str = *in.Str
		} else {
			return fmt.Errorf("catalog: %s value missing payload", in.Kind)
		}
	default:
		return fmt.Errorf("catalog: kind %s cannot be carried as a scalar value", in.Kind)
	}
	*v = out
	return nil
}
