package era5

import (
	"fmt"
	"reflect"
)

// Variable is a named array together with its dimensions and attributes.
// Values holds the elements in row-major order as one of []uint8, []int16,
// []int32, []float32 or []float64.
type Variable struct {
	Name       string
	Dimensions []string
	Shape      []int
	Attributes []Attribute
	Values     any
}

// Attribute is a variable or global attribute. Value is either a string or a
// slice of one of the types allowed for Variable.Values.
type Attribute struct {
	Name  string
	Value any
}

// Len returns the number of elements described by the variable's shape.
func (v *Variable) Len() int {
	n := 1
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

// flatten converts a value returned by the NetCDF reader (a scalar or a
// nested slice of any depth) into a flat slice of a type the classic format
// can store, and returns its shape.
//
// Signed bytes are stored as their bit pattern, unsigned 16-bit integers are
// widened to int32 and 64-bit or unsigned 32-bit integers become float64.
func flatten(v any) (any, []int, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil, fmt.Errorf("%w: nil value", ErrUnsupportedType)
	}
	var shape []int
	elem := rv.Type()
	for elem.Kind() == reflect.Slice {
		elem = elem.Elem()
	}
	for x := rv; x.Kind() == reflect.Slice; {
		shape = append(shape, x.Len())
		if x.Len() == 0 {
			break
		}
		x = x.Index(0)
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	leaves := make([]reflect.Value, 0, n)
	var walk func(reflect.Value)
	walk = func(x reflect.Value) {
		if x.Kind() != reflect.Slice {
			leaves = append(leaves, x)
			return
		}
		for i := 0; i < x.Len(); i++ {
			walk(x.Index(i))
		}
	}
	walk(rv)
	if len(leaves) != n {
		return nil, nil, fmt.Errorf("%w: ragged array of %v", ErrShapeMismatch, rv.Type())
	}

	switch elem.Kind() {
	case reflect.Int8:
		return collect(leaves, func(x reflect.Value) uint8 { return uint8(x.Int()) }), shape, nil
	case reflect.Uint8:
		return collect(leaves, func(x reflect.Value) uint8 { return uint8(x.Uint()) }), shape, nil
	case reflect.Int16:
		return collect(leaves, func(x reflect.Value) int16 { return int16(x.Int()) }), shape, nil
	case reflect.Uint16:
		return collect(leaves, func(x reflect.Value) int32 { return int32(x.Uint()) }), shape, nil
	case reflect.Int32:
		return collect(leaves, func(x reflect.Value) int32 { return int32(x.Int()) }), shape, nil
	case reflect.Int64, reflect.Int:
		return collect(leaves, func(x reflect.Value) float64 { return float64(x.Int()) }), shape, nil
	case reflect.Uint32, reflect.Uint64, reflect.Uint:
		return collect(leaves, func(x reflect.Value) float64 { return float64(x.Uint()) }), shape, nil
	case reflect.Float32:
		return collect(leaves, func(x reflect.Value) float32 { return float32(x.Float()) }), shape, nil
	case reflect.Float64:
		return collect(leaves, func(x reflect.Value) float64 { return x.Float() }), shape, nil
	}
	return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedType, elem)
}

func collect[T any](leaves []reflect.Value, conv func(reflect.Value) T) []T {
	out := make([]T, len(leaves))
	for i, x := range leaves {
		out[i] = conv(x)
	}
	return out
}

// toFloat64s converts a flattened numeric slice to float64.
func toFloat64s(v any) ([]float64, error) {
	switch vals := v.(type) {
	case []uint8:
		return widen(vals), nil
	case []int16:
		return widen(vals), nil
	case []int32:
		return widen(vals), nil
	case []float32:
		return widen(vals), nil
	case []float64:
		return vals, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func widen[T uint8 | int16 | int32 | float32](vals []T) []float64 {
	out := make([]float64, len(vals))
	for i, x := range vals {
		out[i] = float64(x)
	}
	return out
}

// attributeValue converts a raw attribute value into one the classic format
// can store. ok is false for values that have no classic representation.
func attributeValue(v any) (val any, ok bool) {
	if s, isString := v.(string); isString {
		return s, true
	}
	flat, _, err := flatten(v)
	if err != nil {
		return nil, false
	}
	return flat, true
}
