package codec

import (
	"encoding/json"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Tags written into the "type" field for the categories that decode back to
// their original Go type. Every other value is tagged by its shape (Null,
// Array, Object, ...) and decodes as plain JSON data.
const (
	TagString  = "String"
	TagNumber  = "Number"
	TagBigInt  = "BigInt"
	TagBoolean = "Boolean"
	TagDate    = "Date"

	TagNull   = "Null"
	TagArray  = "Array"
	TagObject = "Object"
)

// Kind is the closed set of value categories a record can decode into.
type Kind int

const (
	Structured Kind = iota
	Text
	Numeric
	BigInteger
	Boolean
	DateTime
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "Text"
	case Numeric:
		return "Numeric"
	case BigInteger:
		return "BigInteger"
	case Boolean:
		return "Boolean"
	case DateTime:
		return "DateTime"
	case Structured:
		return "Structured"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// KindOf maps a stored type tag to its Kind. Unknown tags are Structured.
func KindOf(tag string) Kind {
	switch tag {
	case TagString:
		return Text
	case TagNumber:
		return Numeric
	case TagBigInt:
		return BigInteger
	case TagBoolean:
		return Boolean
	case TagDate:
		return DateTime
	default:
		return Structured
	}
}

var (
	bigIntType     = reflect.TypeOf(big.Int{})
	timeType       = reflect.TypeOf(time.Time{})
	jsonNumberType = reflect.TypeOf(json.Number(""))
)

// TagOf returns the type tag recorded for value.
func TagOf(value any) string {
	if value == nil {
		return TagNull
	}

	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return TagNull
		}
		v = v.Elem()
	}

	switch v.Type() {
	case bigIntType:
		return TagBigInt
	case timeType:
		return TagDate
	case jsonNumberType:
		return TagNumber
	}

	switch v.Kind() {
	case reflect.String:
		return TagString
	case reflect.Bool:
		return TagBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return TagNumber
	case reflect.Slice, reflect.Array:
		return TagArray
	case reflect.Map, reflect.Struct:
		return TagObject
	default:
		name := v.Kind().String()
		return strings.ToUpper(name[:1]) + name[1:]
	}
}
