// internal/element/value.go
package element

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the decoded wire type of an element value.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeU16
	TypeI16
	TypeU32
	TypeI32
	TypeF32 // carried as int64 fixed-point, scaled by 10^multiplier
	TypeBit
)

func (t Type) String() string {
	switch t {
	case TypeU16:
		return "u16"
	case TypeI16:
		return "i16"
	case TypeU32:
		return "u32"
	case TypeI32:
		return "i32"
	case TypeF32:
		return "f32"
	case TypeBit:
		return "bit"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

var (
	ErrTypeMismatch = errors.New("element: value type mismatch")
	ErrOutOfRange   = errors.New("element: value out of range")
)

// Value is a tagged union over the wire types.
// The zero Value is invalid.
type Value struct {
	typ Type
	n   int64
	b   bool
}

func U16(v uint16) Value { return Value{typ: TypeU16, n: int64(v)} }
func I16(v int16) Value { return Value{typ: TypeI16, n: int64(v)} }
func U32(v uint32) Value { return Value{typ: TypeU32, n: int64(v)} }
func I32(v int32) Value { return Value{typ: TypeI32, n: int64(v)} }
func Scaled(v int64) Value { return Value{typ: TypeF32, n: v} }
func Bit(v bool) Value { return Value{typ: TypeBit, b: v} }

// ValueOf builds a Value of type t from an integer, checking the range.
// For TypeBit any non-zero n is true.
func ValueOf(t Type, n int64) (Value, error) {
	switch t {
	case TypeU16:
		if n < 0 || n > math.MaxUint16 {
			return Value{}, fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, n, t)
		}
	case TypeI16:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return Value{}, fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, n, t)
		}
	case TypeU32:
		if n < 0 || n > math.MaxUint32 {
			return Value{}, fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, n, t)
		}
	case TypeI32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, n, t)
		}
	case TypeF32:
	case TypeBit:
		return Bit(n != 0), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown type %s", ErrTypeMismatch, t)
	}
	return Value{typ: t, n: n}, nil
}

func (v Value) Type() Type { return v.typ }
func (v Value) Valid() bool { return v.typ != TypeInvalid }
func (v Value) Int64() int64 { return v.n }
func (v Value) Bool() bool { return v.b }
func (v Value) Equal(o Value) bool { return v == o }

func (v Value) String() string {
	switch v.typ {
	case TypeInvalid:
		return "<nil>"
	case TypeBit:
		if v.b {
			return "ON"
		}
		return "OFF"
	default:
		return fmt.Sprintf("%d", v.n)
	}
}

// ParseValue parses the text form of a value of type t.
// Floats are given in engineering units and scaled by 10^multiplier.
func ParseValue(t Type, multiplier int, s string) (Value, error) {
	s = strings.TrimSpace(s)

	switch t {
	case TypeBit:
		switch strings.ToLower(s) {
		case "1", "on", "true":
			return Bit(true), nil
		case "0", "off", "false":
			return Bit(false), nil
		}
		return Value{}, fmt.Errorf("element: %q is not a bit", s)

	case TypeF32:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("element: parse %q: %w", s, err)
		}
		return Scaled(int64(math.Round(f * math.Pow10(multiplier)))), nil
	}

	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return Value{}, fmt.Errorf("element: parse %q: %w", s, err)
	}
	return ValueOf(t, n)
}

// Float64 returns the value in engineering units. Scaled floats are divided
// by 10^multiplier, bits are 0 or 1.
func (v Value) Float64(multiplier int) float64 {
	switch v.typ {
	case TypeBit:
		if v.b {
			return 1
		}
		return 0
	case TypeF32:
		return float64(v.n) / math.Pow10(multiplier)
	}
	return float64(v.n)
}
