package catalog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a    Value
		b    Value
		want bool
	}{
		{
			name: "numbers equal regardless of scale",
			a:    NumberValue(decimal.RequireFromString("199.00")),
			b:    NumberValue(decimal.RequireFromString("199")),
			want: true,
		},
		{
			name: "numbers different",
			a:    NumberValue(decimal.RequireFromString("199.00")),
			b:    NumberValue(decimal.RequireFromString("199.01")),
			want: false,
		},
		{
			name: "text equal",
			a:    TextValue("Widget"),
			b:    TextValue("Widget"),
			want: true,
		},
		{
			name: "different kinds never equal",
			a:    TextValue("true"),
			b:    BoolValue(true),
			want: false,
		},
		{
			name: "dates compare by instant",
			a:    DateValue(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)),
			b:    DateValue(time.Date(2024, 1, 2, 13, 0, 0, 0, time.FixedZone("CET", 3600))),
			want: true,
		},
		{
			name: "enum lists order sensitive",
			a:    EnumListValue([]string{"150", "151"}),
			b:    EnumListValue([]string{"151", "150"}),
			want: false,
		},
		{
			name: "single enum vs multi enum",
			a:    EnumValue("150"),
			b:    EnumListValue([]string{"150"}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestValueIsEmpty(t *testing.T) {
	assert.True(t, TextValue("").IsEmpty())
	assert.True(t, TextValue("   ").IsEmpty())
	assert.True(t, EnumListValue([]string{}).IsEmpty())
	assert.True(t, Value{}.IsEmpty())

	assert.False(t, TextValue("x").IsEmpty())
	assert.False(t, NumberValue(decimal.Zero).IsEmpty())
	assert.False(t, BoolValue(false).IsEmpty())
}

func TestValueJSONRoundTrip(t *testing.T) {
	values := []Value{
		TextValue("Widget"),
		NumberValue(decimal.RequireFromString("199.95")),
		BoolValue(false),
		DateValue(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)),
		EnumValue("4"),
		EnumListValue([]string{"150", "151"}),
		LocalizedValue("Nigella"),
	}

	for _, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, v.Equal(back), "round trip changed value: %s", data)

		again, err := json.Marshal(back)
		require.NoError(t, err)
		assert.Equal(t, string(data), string(again), "serialization must be stable")
	}
}

func TestValueUnmarshalRejectsBadPayloads(t *testing.T) {
	cases := []string{
		`{"kind":"nope","str":"x"}`,
		`{"kind":"number"}`,
		`{"kind":"number","num":"abc"}`,
		`{"kind":"date","time":"01/02/2024"}`,
		`{"kind":"image-list"}`,
	}
	for _, c := range cases {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(c), &v), "payload %s", c)
	}
}

func TestSourceProductField(t *testing.T) {
	p := &SourceProduct{
		ProductNo: "1092-10",
		Fields: map[string]any{
			"name": "Widget",
			"price": map[string]any{
				"sv-SE": "199.00",
			},
		},
	}

	v, ok := p.Field("price.sv-SE")
	require.True(t, ok)
	assert.Equal(t, "199.00", v)

	_, ok = p.Field("price.nb-NO")
	assert.False(t, ok)

	_, ok = p.Field("name.sv-SE")
	assert.False(t, ok)

	_, ok = p.Field("")
	assert.False(t, ok)
}

func TestPriceEntryEqual(t *testing.T) {
	d := decimal.RequireFromString("79.90")
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	base := PriceEntry{Culture: "sv-SE", PriceList: "default", Price: decimal.RequireFromString("199.00")}

	same := base
	same.Price = decimal.RequireFromString("199.0000")
	assert.True(t, base.Equal(same))

	discounted := base
	discounted.DiscountPrice = &d
	assert.False(t, base.Equal(discounted))

	windowed := discounted
	windowed.DiscountFrom = &from
	assert.False(t, discounted.Equal(windowed))

	hidden := base
	hidden.HideProduct = true
	assert.False(t, base.Equal(hidden))
}
