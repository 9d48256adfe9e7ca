// Package array holds the dense, row-major arrays that designs and scores are
// stored in, together with the codecs that read and write them as shard files.
//
// Axis 0 of every array indexes designs. A design is either a sequence of
// integer tokens (DTypeInt32) or a vector of reals (DTypeFloat32). Scores are
// float32 arrays of shape (N, 1).
package array

import (
	"errors"
	"fmt"
)

// DType is the element kind of an Array.
type DType int

const (
	// DTypeInt32 holds token indices.
	DTypeInt32 DType = iota
	// DTypeFloat32 holds real values.
	DTypeFloat32
	// DTypeFloat16 is only used on disk; decoded arrays are always DTypeFloat32.
	DTypeFloat16
)

func (d DType) String() string {
	switch d {
	case DTypeInt32:
		return "int32"
	case DTypeFloat32:
		return "float32"
	case DTypeFloat16:
		return "float16"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ErrShape is returned when data does not agree with a declared shape.
var ErrShape = errors.New("array: shape mismatch")

// Array is a dense N-d array. Exactly one of Ints or Floats is populated,
// depending on DType.
type Array struct {
	Shape  []int
	DType  DType
	Ints   []int32
	Floats []float32
}

// FromInts wraps data (not copied) as an int32 array of the given shape.
func FromInts(data []int32, shape ...int) (*Array, error) {
	if Size(shape) != len(data) {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrShape, len(data), shape)
	}
	return &Array{Shape: append([]int(nil), shape...), DType: DTypeInt32, Ints: data}, nil
}

// FromFloats wraps data (not copied) as a float32 array of the given shape.
func FromFloats(data []float32, shape ...int) (*Array, error) {
	if Size(shape) != len(data) {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrShape, len(data), shape)
	}
	return &Array{Shape: append([]int(nil), shape...), DType: DTypeFloat32, Floats: data}, nil
}

// Zeros allocates an array of the given dtype and shape.
func Zeros(dtype DType, shape ...int) *Array {
	a := &Array{Shape: append([]int(nil), shape...), DType: dtype}
	if dtype == DTypeInt32 {
		a.Ints = make([]int32, Size(shape))
	} else {
		a.DType = DTypeFloat32
		a.Floats = make([]float32, Size(shape))
	}
	return a
}

// Size is the product of the dimensions in shape. The empty shape has size 1.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Rows returns the number of designs (the length of axis 0).
func (a *Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// RowShape is the shape of a single design.
func (a *Array) RowShape() []int {
	if len(a.Shape) == 0 {
		return nil
	}
	return append([]int(nil), a.Shape[1:]...)
}

// RowSize is the number of elements in a single design.
func (a *Array) RowSize() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return Size(a.Shape[1:])
}

// Len is the total number of elements.
func (a *Array) Len() int {
	if a.DType == DTypeInt32 {
		return len(a.Ints)
	}
	return len(a.Floats)
}

// Slice returns rows [lo, hi) as a view sharing memory with a.
func (a *Array) Slice(lo, hi int) *Array {
	rs := a.RowSize()
	shape := append([]int{hi - lo}, a.Shape[1:]...)
	out := &Array{Shape: shape, DType: a.DType}
	if a.DType == DTypeInt32 {
		out.Ints = a.Ints[lo*rs : hi*rs]
	} else {
		out.Floats = a.Floats[lo*rs : hi*rs]
	}
	return out
}

// Take copies the given rows, in order, into a new array.
func (a *Array) Take(rows []int) *Array {
	rs := a.RowSize()
	shape := append([]int{len(rows)}, a.Shape[1:]...)
	out := Zeros(a.DType, shape...)
	for i, r := range rows {
		if a.DType == DTypeInt32 {
			copy(out.Ints[i*rs:(i+1)*rs], a.Ints[r*rs:(r+1)*rs])
		} else {
			copy(out.Floats[i*rs:(i+1)*rs], a.Floats[r*rs:(r+1)*rs])
		}
	}
	return out
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	out := &Array{Shape: append([]int(nil), a.Shape...), DType: a.DType}
	if a.Ints != nil {
		out.Ints = append([]int32(nil), a.Ints...)
	}
	if a.Floats != nil {
		out.Floats = append([]float32(nil), a.Floats...)
	}
	return out
}

// Reshape returns a view of a with a new shape of the same size.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	if Size(shape) != a.Len() {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, a.Shape, shape)
	}
	return &Array{Shape: append([]int(nil), shape...), DType: a.DType, Ints: a.Ints, Floats: a.Floats}, nil
}

// Float32s returns the elements as float32. Float arrays return their backing
// slice; int arrays are converted into a new slice.
func (a *Array) Float32s() []float32 {
	if a.DType != DTypeInt32 {
		return a.Floats
	}
	out := make([]float32, len(a.Ints))
	for i, v := range a.Ints {
		out[i] = float32(v)
	}
	return out
}

// Row returns the elements of row i as float32, converting tokens if needed.
func (a *Array) Row(i int) []float32 {
	rs := a.RowSize()
	if a.DType != DTypeInt32 {
		return a.Floats[i*rs : (i+1)*rs]
	}
	out := make([]float32, rs)
	for j, v := range a.Ints[i*rs : (i+1)*rs] {
		out[j] = float32(v)
	}
	return out
}

// Equal reports whether a and b have the same dtype, shape and elements.
func Equal(a, b *Array) bool {
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	if a.DType == DTypeInt32 {
		if len(a.Ints) != len(b.Ints) {
			return false
		}
		for i := range a.Ints {
			if a.Ints[i] != b.Ints[i] {
				return false
			}
		}
		return true
	}
	if len(a.Floats) != len(b.Floats) {
		return false
	}
	for i := range a.Floats {
		if a.Floats[i] != b.Floats[i] {
			return false
		}
	}
	return true
}

// Concat joins arrays along axis 0. All parts must share dtype and row shape.
// An empty parts list yields nil.
func Concat(parts ...*Array) (*Array, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	first := parts[0]
	rows := 0
	for _, p := range parts {
		if p.DType != first.DType || !sameShape(p.RowShape(), first.RowShape()) {
			return nil, fmt.Errorf("%w: cannot concatenate %s%v with %s%v", ErrShape,
				first.DType, first.Shape, p.DType, p.Shape)
		}
		rows += p.Rows()
	}
	shape := append([]int{rows}, first.Shape[1:]...)
	out := &Array{Shape: shape, DType: first.DType}
	if first.DType == DTypeInt32 {
		out.Ints = make([]int32, 0, Size(shape))
		for _, p := range parts {
			out.Ints = append(out.Ints, p.Ints...)
		}
	} else {
		out.Floats = make([]float32, 0, Size(shape))
		for _, p := range parts {
			out.Floats = append(out.Floats, p.Floats...)
		}
	}
	return out, nil
}

// Bytes is the in-memory payload size, used as a cache cost.
func (a *Array) Bytes() int64 {
	return int64(a.Len()) * 4
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool { return sameShape(a, b) }
