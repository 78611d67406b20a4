// Package dataset holds feature/label arrays in memory, assembles them from
// multiple source files, and routes them into the composite-input form some
// loss functions require.
package dataset

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch indicates arrays that cannot be combined.
var ErrShapeMismatch = errors.New("dataset: shape mismatch")

// Array is a dense row-major float32 array. The first axis is the sample
// axis; trailing axes describe one sample.
type Array struct {
	Shape []int
	Data  []float32
}

// NewArray validates that data matches the product of shape.
func NewArray(shape []int, data []float32) (*Array, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("dataset: negative dimension %d", d)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("dataset: shape %v wants %d elements, got %d", shape, n, len(data))
	}
	return &Array{Shape: shape, Data: data}, nil
}

// Zeros returns a one-dimensional zero array of n samples.
func Zeros(n int) *Array {
	return &Array{Shape: []int{n}, Data: make([]float32, n)}
}

// Rows returns the sample count.
func (a *Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// RowDim returns the number of elements in one sample.
func (a *Array) RowDim() int {
	n := 1
	for _, d := range a.Shape[1:] {
		n *= d
	}
	return n
}

// Row returns sample i as a view into the backing data.
func (a *Array) Row(i int) []float32 {
	d := a.RowDim()
	return a.Data[i*d : (i+1)*d]
}

// SliceRows returns rows [start, end) as a view sharing the backing data.
func (a *Array) SliceRows(start, end int) *Array {
	d := a.RowDim()
	shape := make([]int, len(a.Shape))
	copy(shape, a.Shape)
	shape[0] = end - start
	return &Array{Shape: shape, Data: a.Data[start*d : end*d]}
}

// Squeeze returns an array with all length-1 axes removed. The backing data
// is shared. A fully scalar shape squeezes to a single axis of length 1.
func Squeeze(a *Array) *Array {
	shape := make([]int, 0, len(a.Shape))
	for _, d := range a.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	return &Array{Shape: shape, Data: a.Data}
}

// Concat concatenates arrays along the sample axis. All trailing dimensions
// must agree.
func Concat(arrs []*Array) (*Array, error) {
	if len(arrs) == 0 {
		return nil, fmt.Errorf("dataset: nothing to concatenate")
	}
	first := arrs[0]
	rows := 0
	for _, a := range arrs {
		if len(a.Shape) != len(first.Shape) || a.RowDim() != first.RowDim() {
			return nil, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.Shape, first.Shape)
		}
		for i := 1; i < len(a.Shape); i++ {
			if a.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.Shape, first.Shape)
			}
		}
		rows += a.Rows()
	}
	shape := make([]int, len(first.Shape))
	copy(shape, first.Shape)
	shape[0] = rows

	data := make([]float32, 0, rows*first.RowDim())
	for _, a := range arrs {
		data = append(data, a.Data...)
	}
	return &Array{Shape: shape, Data: data}, nil
}

// StartingIndices returns the offset at which each source array begins
// within their concatenation: one entry per source, the first always 0.
func StartingIndices(arrs []*Array) []int {
	starts := make([]int, len(arrs))
	off := 0
	for i, a := range arrs {
		starts[i] = off
		off += a.Rows()
	}
	return starts
}

// Splits carries per-split starting indices. Only the validation split is
// tracked: per-sequence metric breakdown is a validation-time concern.
type Splits struct {
	Valid []int
}
