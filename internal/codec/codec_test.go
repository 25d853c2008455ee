package codec

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, value any) any {
	t.Helper()
	raw, err := Encode(value)
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	return decoded
}

func TestRoundTrip_Text(t *testing.T) {
	for _, value := range []string{"", "hello", "with \"quotes\"", "ünïcødé", "123"} {
		require.Equal(t, value, roundTrip(t, value))
	}
}

func TestRoundTrip_Numeric(t *testing.T) {
	for _, value := range []float64{0, 1, -1, 3.25, 1e21, math.MaxFloat64, math.SmallestNonzeroFloat64} {
		require.Equal(t, value, roundTrip(t, value))
	}
}

func TestRoundTrip_IntegersDecodeAsFloat(t *testing.T) {
	require.Equal(t, float64(42), roundTrip(t, 42))
	require.Equal(t, float64(7), roundTrip(t, uint8(7)))
	require.Equal(t, float64(-3), roundTrip(t, int64(-3)))
	require.Equal(t, float64(12.5), roundTrip(t, json.Number("12.5")))
}

func TestRoundTrip_Boolean(t *testing.T) {
	require.Equal(t, true, roundTrip(t, true))
	require.Equal(t, false, roundTrip(t, false))
}

func TestRoundTrip_BigInteger(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	for _, value := range []*big.Int{big.NewInt(0), big.NewInt(-99), huge} {
		decoded := roundTrip(t, value)
		n, ok := decoded.(*big.Int)
		require.True(t, ok, "expected *big.Int, got %T", decoded)
		require.Zero(t, value.Cmp(n), "expected %s, got %s", value, n)
	}

	// Non-pointer big.Int values are tagged the same way
	decoded := roundTrip(t, *huge)
	require.Zero(t, huge.Cmp(decoded.(*big.Int)))
}

func TestRoundTrip_DateTime(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	values := []time.Time{
		time.Date(2024, 2, 29, 12, 30, 45, 123456789, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 0, loc),
		time.Unix(0, 0),
	}
	for _, value := range values {
		decoded := roundTrip(t, value)
		got, ok := decoded.(time.Time)
		require.True(t, ok, "expected time.Time, got %T", decoded)
		require.True(t, value.Equal(got), "expected %s, got %s", value, got)
	}

	ptr := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, ptr.Equal(roundTrip(t, &ptr).(time.Time)))
}

func TestEncode_EnvelopeLayout(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "string", value: "hi", want: `{"type":"String","data":"hi"}`},
		{name: "number", value: 1.5, want: `{"type":"Number","data":1.5}`},
		{name: "bool", value: true, want: `{"type":"Boolean","data":true}`},
		{name: "bigint", value: big.NewInt(10), want: `{"type":"BigInt","data":"10"}`},
		{name: "date", value: time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC), want: `{"type":"Date","data":"2024-01-02T03:04:05.006Z"}`},
		{name: "nil", value: nil, want: `{"type":"Null","data":null}`},
		{name: "slice", value: []int{1, 2}, want: `{"type":"Array","data":[1,2]}`},
		{name: "map", value: map[string]int{"a": 1}, want: `{"type":"Object","data":{"a":1}}`},
		{name: "struct", value: struct {
			Name string `json:"name"`
		}{Name: "x"}, want: `{"type":"Object","data":{"name":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.value)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestDecode_StructuredValues(t *testing.T) {
	decoded := roundTrip(t, map[string]any{"theme": "dark", "size": 3})
	require.Equal(t, map[string]any{"theme": "dark", "size": float64(3)}, decoded)

	decoded = roundTrip(t, []string{"a", "b"})
	require.Equal(t, []any{"a", "b"}, decoded)

	// Empty containers are truthy and decode as themselves
	require.Equal(t, []any{}, roundTrip(t, []int{}))
	require.Equal(t, map[string]any{}, roundTrip(t, map[string]int{}))
}

// Falsy data under a non-primitive tag decodes to the record itself.
func TestDecode_FalsyStructuredReturnsRecord(t *testing.T) {
	require.Equal(t, Record{Type: TagNull, Data: nil}, roundTrip(t, nil))

	tests := []struct {
		raw  string
		want Record
	}{
		{raw: `{"type":"Object","data":null}`, want: Record{Type: "Object", Data: nil}},
		{raw: `{"type":"Object","data":false}`, want: Record{Type: "Object", Data: false}},
		{raw: `{"type":"Object","data":0}`, want: Record{Type: "Object", Data: float64(0)}},
		{raw: `{"type":"Custom","data":""}`, want: Record{Type: "Custom", Data: ""}},
		{raw: `{"type":"Undefined"}`, want: Record{Type: "Undefined", Data: nil}},
	}
	for _, tt := range tests {
		decoded, err := Decode([]byte(tt.raw))
		require.NoError(t, err)
		require.Equal(t, tt.want, decoded, tt.raw)
	}
}

func TestDecode_Coercions(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{raw: `{"type":"String","data":12}`, want: "12"},
		{raw: `{"type":"String","data":true}`, want: "true"},
		{raw: `{"type":"String","data":null}`, want: "null"},
		{raw: `{"type":"Number","data":"42"}`, want: float64(42)},
		{raw: `{"type":"Number","data":""}`, want: float64(0)},
		{raw: `{"type":"Number","data":true}`, want: float64(1)},
		{raw: `{"type":"Number","data":null}`, want: float64(0)},
		{raw: `{"type":"Boolean","data":"x"}`, want: true},
		{raw: `{"type":"Boolean","data":0}`, want: false},
		{raw: `{"type":"Boolean","data":[]}`, want: true},
		{raw: `{"type":"Date","data":0}`, want: time.Unix(0, 0).UTC()},
	}
	for _, tt := range tests {
		decoded, err := Decode([]byte(tt.raw))
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, decoded, tt.raw)
	}

	decoded, err := Decode([]byte(`{"type":"Number","data":"abc"}`))
	require.NoError(t, err)
	require.True(t, math.IsNaN(decoded.(float64)))

	decoded, err = Decode([]byte(`{"type":"BigInt","data":17}`))
	require.NoError(t, err)
	require.Zero(t, big.NewInt(17).Cmp(decoded.(*big.Int)))
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`{"data":1}`,
		`{"type":"BigInt","data":"12x"}`,
		`{"type":"BigInt","data":1.5}`,
		`{"type":"Date","data":"yesterday"}`,
		`{"type":"Date","data":{}}`,
	} {
		_, err := Decode([]byte(raw))
		require.Error(t, err, raw)
		require.True(t, errors.Is(err, ErrMalformedRecord), "%q: %v", raw, err)
	}
}

func TestEncode_SerializerErrorsPropagate(t *testing.T) {
	_, err := Encode(make(chan int))
	var typeErr *json.UnsupportedTypeError
	require.ErrorAs(t, err, &typeErr)

	_, err = Encode(map[string]any{"fn": func() {}})
	require.ErrorAs(t, err, &typeErr)

	_, err = Encode(math.Inf(1))
	var valueErr *json.UnsupportedValueError
	require.ErrorAs(t, err, &valueErr)
}

func TestTagOf(t *testing.T) {
	var nilPtr *big.Int
	tests := []struct {
		value any
		want  string
	}{
		{value: "s", want: TagString},
		{value: 1, want: TagNumber},
		{value: float32(1), want: TagNumber},
		{value: true, want: TagBoolean},
		{value: big.NewInt(1), want: TagBigInt},
		{value: time.Now(), want: TagDate},
		{value: nil, want: TagNull},
		{value: nilPtr, want: TagNull},
		{value: [2]int{}, want: TagArray},
		{value: struct{}{}, want: TagObject},
		{value: make(chan int), want: "Chan"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, TagOf(tt.value), "%T", tt.value)
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, Text, KindOf(TagString))
	require.Equal(t, Numeric, KindOf(TagNumber))
	require.Equal(t, BigInteger, KindOf(TagBigInt))
	require.Equal(t, Boolean, KindOf(TagBoolean))
	require.Equal(t, DateTime, KindOf(TagDate))
	require.Equal(t, Structured, KindOf(TagObject))
	require.Equal(t, Structured, KindOf("Map"))
	require.Equal(t, "BigInteger", BigInteger.String())

	kind, err := DecodeKind([]byte(`{"type":"Date","data":0}`))
	require.NoError(t, err)
	require.Equal(t, DateTime, kind)
}

func TestDecodeTagged(t *testing.T) {
	value, err := DecodeTagged(TagDate, json.RawMessage(`"2024-01-02T03:04:05Z"`))
	require.NoError(t, err)
	require.True(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Equal(value.(time.Time)))

	value, err = DecodeTagged(TagBigInt, json.RawMessage(`"12345678901234567890"`))
	require.NoError(t, err)
	require.Equal(t, "12345678901234567890", value.(*big.Int).String())

	value, err = DecodeTagged(TagNumber, json.RawMessage(`"2.5"`))
	require.NoError(t, err)
	require.Equal(t, 2.5, value)

	_, err = DecodeTagged(TagDate, json.RawMessage(`"yesterday"`))
	require.ErrorIs(t, err, ErrMalformedRecord)

	_, err = DecodeTagged(TagString, json.RawMessage(`{bad`))
	require.ErrorIs(t, err, ErrMalformedRecord)
}
