package index

import (
	"math"
	"strconv"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
)

// Value is a single field value of a document.
type Value struct {
	Kind Kind
	I64  int64
	F64  float64
	S    string
}

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Key returns the representation used to key postings. Integers and
// integral floats share a key so "term" queries match across numeric kinds.
func (v Value) Key() string {
	switch v.Kind {
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		if v.F64 == math.Trunc(v.F64) && math.Abs(v.F64) < 1<<63 {
			return "i:" + strconv.FormatInt(int64(v.F64), 10)
		}
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.S
	default:
		return "invalid"
	}
}

// AsFloat64 returns the value as a float for numeric kinds.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I64), true
	case KindFloat:
		return v.F64, true
	default:
		return 0, false
	}
}

// Coerce converts v to the representation stored for a field of type ft.
func (v Value) Coerce(ft FieldType) (Value, bool) {
	switch ft {
	case FieldLong:
		switch v.Kind {
		case KindInt:
			return v, true
		case KindFloat:
			if v.F64 == math.Trunc(v.F64) && math.Abs(v.F64) < 1<<63 {
				return Int(int64(v.F64)), true
			}
		case KindString:
			if i, err := strconv.ParseInt(v.S, 10, 64); err == nil {
				return Int(i), true
			}
		}
	case FieldInteger:
		if c, ok := v.Coerce(FieldLong); ok && c.I64 >= math.MinInt32 && c.I64 <= math.MaxInt32 {
			return c, true
		}
	case FieldDouble:
		switch v.Kind {
		case KindInt:
			return Float(float64(v.I64)), true
		case KindFloat:
			return v, true
		case KindString:
			if f, err := strconv.ParseFloat(v.S, 64); err == nil {
				return Float(f), true
			}
		}
	case FieldKeyword:
		switch v.Kind {
		case KindString:
			return v, true
		case KindInt:
			return String(strconv.FormatInt(v.I64, 10)), true
		case KindFloat:
			return String(strconv.FormatFloat(v.F64, 'f', -1, 64)), true
		}
	}
	return Value{}, false
}
