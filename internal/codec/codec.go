// Package codec converts values to and from the tagged record format
// persisted for every key:
//
//	{"type":"<tag>","data":<json>}
//
// The tag captures the value's category at write time so that strings,
// numbers, big integers, booleans and dates come back as the same Go type.
// Anything else is stored as plain JSON and decodes to its generic JSON form
// (map[string]any, []any, ...).
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRecord is returned by Decode when the stored text is not a
// tagged record.
var ErrMalformedRecord = errors.New("malformed record")

// Record is the decoded form of a stored envelope. Decode returns a Record
// itself, instead of its data, when a structured value is falsy (null, false,
// 0 or ""); callers that store such values under a non-primitive tag get the
// envelope back.
type Record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type envelope struct {
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode tags value and serializes it into a record. Serializer failures
// (channels, funcs, cyclic or non-finite values) are returned wrapped.
func Encode(value any) ([]byte, error) {
	tag := TagOf(value)

	data, err := encodeData(tag, value)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", tag, err)
	}

	out, err := json.Marshal(envelope{Type: &tag, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", tag, err)
	}
	return out, nil
}

func encodeData(tag string, value any) (json.RawMessage, error) {
	switch tag {
	case TagBigInt:
		n := deref(value).(big.Int)
		return json.Marshal(n.String())
	case TagDate:
		t := deref(value).(time.Time)
		return json.Marshal(t.UTC().Format(time.RFC3339Nano))
	default:
		return json.Marshal(value)
	}
}

func deref(value any) any {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	return v.Interface()
}

// Decode parses a stored record and reconstructs its value according to the
// record's tag.
func Decode(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedRecord)
	}
	tag := *env.Type

	var data any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
	}

	switch KindOf(tag) {
	case Text:
		return toText(data, env.Data), nil
	case Numeric:
		return toNumber(data), nil
	case BigInteger:
		n, err := parseBigInt(data)
		if err != nil {
			return nil, err
		}
		return n, nil
	case Boolean:
		return truthy(data), nil
	case DateTime:
		t, err := parseDate(data)
		if err != nil {
			return nil, err
		}
		return t, nil
	case Structured:
		if truthy(data) {
			return data, nil
		}
		return Record{Type: tag, Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: unhandled tag %q", ErrMalformedRecord, tag)
	}
}

// DecodeKind returns the Kind a record decodes into without decoding its
// data.
func DecodeKind(raw []byte) (Kind, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Structured, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if env.Type == nil {
		return Structured, fmt.Errorf("%w: missing type", ErrMalformedRecord)
	}
	return KindOf(*env.Type), nil
}

// DecodeTagged decodes data as if it had been stored under tag, e.g. an
// RFC 3339 string under "Date" yields a time.Time.
func DecodeTagged(tag string, data json.RawMessage) (any, error) {
	raw, err := json.Marshal(envelope{Type: &tag, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Decode(raw)
}

func toText(data any, raw json.RawMessage) string {
	if s, ok := data.(string); ok {
		return s
	}
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func toNumber(data any) float64 {
	switch v := data.(type) {
	case nil:
		return 0
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func parseBigInt(data any) (*big.Int, error) {
	switch v := data.(type) {
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
		if !ok {
			return nil, fmt.Errorf("%w: invalid big integer %q", ErrMalformedRecord, v)
		}
		return n, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: invalid big integer %v", ErrMalformedRecord, v)
		}
		n, _ := big.NewFloat(v).Int(nil)
		return n, nil
	case bool:
		if v {
			return big.NewInt(1), nil
		}
		return big.NewInt(0), nil
	default:
		return nil, fmt.Errorf("%w: invalid big integer %v", ErrMalformedRecord, data)
	}
}

func parseDate(data any) (time.Time, error) {
	switch v := data.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid date %q: %v", ErrMalformedRecord, v, err)
		}
		return t.UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: invalid date %v", ErrMalformedRecord, data)
	}
}

// truthy reports whether a decoded JSON value counts as set: null, false, 0,
// NaN and "" do not; arrays and objects always do.
func truthy(data any) bool {
	switch v := data.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	default:
		return true
	}
}
