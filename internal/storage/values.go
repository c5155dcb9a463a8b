package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
)

// PrefType is the declared type of a stored preference.
type PrefType string

const (
	PrefString PrefType = "string"
	PrefInt    PrefType = "int"
	PrefFloat  PrefType = "float"
	PrefJSON   PrefType = "json"
)

func (t PrefType) Valid() bool {
	switch t {
	case PrefString, PrefInt, PrefFloat, PrefJSON:
		return true
	}
	return false
}

// ParsePrefType maps a type name to a PrefType.
func ParsePrefType(name string) (PrefType, error) {
	t := PrefType(strings.ToLower(strings.TrimSpace(name)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown preference type %q", ErrInvalidArgument, name)
	}
	return t, nil
}

// Value is a preference value tagged with its type. Only the field matching
// Type is meaningful.
type Value struct {
	Type  PrefType
	Str   string
	Int   int64
	Float float64
	JSON  any
}

func StringValue(v string) Value { return Value{Type: PrefString, Str: v} }
func IntValue(v int64) Value { return Value{Type: PrefInt, Int: v} }
func FloatValue(v float64) Value { return Value{Type: PrefFloat, Float: v} }
func JSONValue(v any) Value { return Value{Type: PrefJSON, JSON: v} }

// Interface returns the underlying Go value.
func (v Value) Interface() any {
	switch v.Type {
	case PrefInt:
		return v.Int
	case PrefFloat:
		return v.Float
	case PrefJSON:
		return v.JSON
	default:
		return v.Str
	}
}

// Text returns the stored text form of the value.
func (v Value) Text() string {
	s, err := v.encode()
	if err != nil {
		return fmt.Sprint(v.Interface())
	}
	return s
}

func (v Value) String() string {
	return v.Text()
}

// Equal compares two values by type and stored text form.
func (v Value) Equal(o Value) bool {
	return v.Type == o.Type && v.Text() == o.Text()
}

func (v Value) encode() (string, error) {
	switch v.Type {
	case PrefString:
		return v.Str, nil
	case PrefInt:
		return strconv.FormatInt(v.Int, 10), nil
	case PrefFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	case PrefJSON:
		b, err := json.Marshal(v.JSON)
		if err != nil {
			return "", fmt.Errorf("%w: encoding json preference: %v", ErrInvalidArgument, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("%w: unknown preference type %q", ErrInvalidArgument, v.Type)
}

// decodeValue rebuilds a Value from its stored text. A mismatch between the
// text and the declared type is ErrDecode.
func decodeValue(text string, t PrefType) (Value, error) {
	switch t {
	case PrefString:
		return StringValue(text), nil
	case PrefInt:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int", ErrDecode, text)
		}
		return IntValue(n), nil
	case PrefFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrDecode, text)
		}
		return FloatValue(f), nil
	case PrefJSON:
		// Numbers stay json.Number so integers beyond 2^53 keep every digit.
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return Value{}, fmt.Errorf("%w: invalid json: %v", ErrDecode, err)
		}
		if _, err := dec.Token(); err != io.EOF {
			return Value{}, fmt.Errorf("%w: invalid json: trailing data", ErrDecode)
		}
		return JSONValue(doc), nil
	}
	return Value{}, fmt.Errorf("%w: unknown stored type %q", ErrDecode, t)
}

// Coerce builds a Value from an arbitrary Go value and a declared type.
// Maps, slices and arrays are always stored as JSON, as is anything declared
// json. Other non-string scalars are converted to their text form, which must
// then parse as the declared numeric type.
func Coerce(v any, t PrefType) (Value, error) {
	if !t.Valid() {
		return Value{}, fmt.Errorf("%w: unknown preference type %q", ErrInvalidArgument, t)
	}
	if v == nil {
		return Value{}, fmt.Errorf("%w: preference value is nil", ErrInvalidArgument)
	}
	if t == PrefJSON || isComposite(v) {
		if _, err := json.Marshal(v); err != nil {
			return Value{}, fmt.Errorf("%w: value is not json encodable: %v", ErrInvalidArgument, err)
		}
		return JSONValue(v), nil
	}

	text, ok := v.(string)
	if !ok {
		text = fmt.Sprint(v)
	}

	switch t {
	case PrefInt:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int", ErrInvalidArgument, text)
		}
		return IntValue(n), nil
	case PrefFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrInvalidArgument, text)
		}
		return FloatValue(f), nil
	default:
		return StringValue(text), nil
	}
}

func isComposite(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}
