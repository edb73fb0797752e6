package point

import (
	"errors"
	"fmt"
)

// ErrTypeMismatch is returned by the typed accessors when the stored
// variant cannot represent the requested type.
var ErrTypeMismatch = errors.New("value type mismatch")

// Kind identifies the payload variant carried by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindBytes
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "BOOL"
	case KindI16:
		return "I16"
	case KindI32:
		return "I32"
	case KindI64:
		return "I64"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindBytes:
		return "BYTES"
	case KindString:
		return "STRING"
	default:
		return "NONE"
	}
}

// Value is a tagged payload variant. The zero Value has KindNone and fails
// every typed accessor. Numeric variants widen through the usual lossy
// conversions; requesting an incompatible variant returns ErrTypeMismatch.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	raw  []byte
	str  string
}

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }
func I16(v int16) Value { return Value{kind: KindI16, i: int64(v)} }
func I32(v int32) Value { return Value{kind: KindI32, i: int64(v)} }
func I64(v int64) Value { return Value{kind: KindI64, i: v} }
func F32(v float32) Value { return Value{kind: KindF32, f: float64(v)} }
func F64(v float64) Value { return Value{kind: KindF64, f: v} }
func Bytes(v []byte) Value { return Value{kind: KindBytes, raw: v} }
func Str(v string) Value { return Value{kind: KindString, str: v} }

// Kind reports the payload variant.
func (v Value) Kind() Kind { return v.kind }

// IsNumeric reports whether the variant widens to a number.
func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindI16, KindI32, KindI64, KindF32, KindF64:
		return true
	}
	return false
}

// AsFloat widens any numeric variant to float64.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindI16, KindI32, KindI64:
		return float64(v.i), nil
	case KindF32, KindF64:
		return v.f, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrTypeMismatch, v.kind)
}

// AsBool returns the boolean payload. Numeric variants do not satisfy
// AsBool; use Truthy for the encoder's value-to-SPI coercion.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("%w: %s is not a boolean", ErrTypeMismatch, v.kind)
	}
	return v.b, nil
}

// AsInt narrows any numeric variant to int32, truncating fractions.
func (v Value) AsInt() (int32, error) {
	switch v.kind {
	case KindI16, KindI32, KindI64:
		return int32(v.i), nil
	case KindF32, KindF64:
		return int32(v.f), nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrTypeMismatch, v.kind)
}

// AsLong widens any numeric variant to int64, truncating fractions.
func (v Value) AsLong() (int64, error) {
	switch v.kind {
	case KindI16, KindI32, KindI64:
		return v.i, nil
	case KindF32, KindF64:
		return int64(v.f), nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrTypeMismatch, v.kind)
}

// AsBytes returns the raw byte payload.
func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, fmt.Errorf("%w: %s is not bytes", ErrTypeMismatch, v.kind)
	}
	return v.raw, nil
}

// AsString returns the string payload.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("%w: %s is not a string", ErrTypeMismatch, v.kind)
	}
	return v.str, nil
}

// Truthy coerces the payload for single-point encoding: booleans pass
// through, numerics compare against zero, anything else is false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindI16, KindI32, KindI64:
		return v.i != 0
	case KindF32, KindF64:
		return v.f != 0
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindI16, KindI32, KindI64:
		return fmt.Sprintf("%d", v.i)
	case KindF32, KindF64:
		return fmt.Sprintf("%g", v.f)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.raw)
	case KindString:
		return v.str
	default:
		return "<none>"
	}
}
