package ags

import (
	"fmt"
	"math"
)

// Value is a tagged port value: one of bool, int64, uint64, float64 or
// []float64.
type Value struct {
	kind   PortKind
	bits   uint64
	floats []float64
}

func BoolValue(b bool) Value {
	if b {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

func IntValue(i int64) Value { return Value{kind: KindInt, bits: uint64(i)} }
func UintValue(u uint64) Value { return Value{kind: KindUint, bits: u} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, bits: math.Float64bits(f)} }
func FloatsValue(f []float64) Value { return Value{kind: KindFloatSlice, floats: f} }

func (v Value) Kind() PortKind { return v.kind }

func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, v.typeError(KindBool)
	}
	return v.bits != 0, nil
}

func (v Value) Int() (int64, error) {
	if v.kind != KindInt {
		return 0, v.typeError(KindInt)
	}
	return int64(v.bits), nil
}

func (v Value) Uint() (uint64, error) {
	if v.kind != KindUint {
		return 0, v.typeError(KindUint)
	}
	return v.bits, nil
}

func (v Value) Float() (float64, error) {
	if v.kind != KindFloat {
		return 0, v.typeError(KindFloat)
	}
	return math.Float64frombits(v.bits), nil
}

func (v Value) Floats() ([]float64, error) {
	if v.kind != KindFloatSlice {
		return nil, v.typeError(KindFloatSlice)
	}
	return v.floats, nil
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprint(v.bits != 0)
	case KindInt:
		return fmt.Sprint(int64(v.bits))
	case KindUint:
		return fmt.Sprint(v.bits)
	case KindFloat:
		return fmt.Sprint(math.Float64frombits(v.bits))
	default:
		return fmt.Sprint(v.floats)
	}
}

func (v Value) typeError(want PortKind) error {
	return fmt.Errorf("value is %v, not %v: %w", v.kind, want, ErrInvalidType)
}

// DecibelConversion stores linear gain for values written in decibels.
type DecibelConversion struct{}

func (DecibelConversion) ToPort(db float64) float64 { return math.Pow(10, db/20) }

func (DecibelConversion) FromPort(gain float64) float64 {
	if gain <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(gain)
}
