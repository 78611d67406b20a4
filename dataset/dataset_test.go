package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-pose/npy"
)

func TestNewArrayValidatesShape(t *testing.T) {
	_, err := NewArray([]int{2, 3}, make([]float32, 5))
	assert.Error(t, err)

	a, err := NewArray([]int{2, 3}, make([]float32, 6))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Rows())
	assert.Equal(t, 3, a.RowDim())
}

func TestRowAndSliceShareBacking(t *testing.T) {
	a, err := NewArray([]int{3, 2}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	assert.Equal(t, []float32{3, 4}, a.Row(1))

	s := a.SliceRows(1, 3)
	assert.Equal(t, []int{2, 2}, s.Shape)
	s.Data[0] = 99
	assert.Equal(t, float32(99), a.Data[2])
}

func TestSqueeze(t *testing.T) {
	a, err := NewArray([]int{4, 1, 5}, make([]float32, 20))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, Squeeze(a).Shape)

	scalar, err := NewArray([]int{1, 1}, []float32{7})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, Squeeze(scalar).Shape)
}

func TestConcatAndStartingIndices(t *testing.T) {
	a, _ := NewArray([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := NewArray([]int{3, 2}, []float32{5, 6, 7, 8, 9, 10})

	starts := StartingIndices([]*Array{a, b})
	assert.Equal(t, []int{0, 2}, starts)

	out, err := Concat([]*Array{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2}, out.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, out.Data)
}

func TestConcatShapeMismatch(t *testing.T) {
	a, _ := NewArray([]int{2, 2}, make([]float32, 4))
	b, _ := NewArray([]int{2, 3}, make([]float32, 6))
	_, err := Concat([]*Array{a, b})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRouteForAuxiliaryLoss(t *testing.T) {
	features, _ := NewArray([]int{4, 3}, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
		10, 11, 12,
	})
	labels, _ := NewArray([]int{4, 7}, make([]float32, 28))
	for i := range labels.Data {
		labels.Data[i] = float32(i)
	}

	inputs, target := Route(features, labels)

	assert.Same(t, features, inputs.Main())
	assert.Same(t, labels, inputs.AuxLabels())
	assert.Equal(t, []int{4}, target.Shape)
	for _, v := range target.Data {
		assert.Zero(t, v)
	}
}

func TestPlainInputs(t *testing.T) {
	features, _ := NewArray([]int{2, 2}, make([]float32, 4))
	in := Plain(features)
	assert.Same(t, features, in.Main())
	assert.Nil(t, in.AuxLabels())
	assert.Equal(t, 2, in.Rows())
}

func TestLoadConcatFromFiles(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "s1.npy")
	p2 := filepath.Join(dir, "s2.npy")
	require.NoError(t, npy.Write(p1, []int{1, 2, 4}, []float32{0, 1, 2, 3, 4, 5, 6, 7}))
	require.NoError(t, npy.Write(p2, []int{1, 3, 4}, make([]float32, 12)))

	out, starts, err := LoadConcat([]string{p1, p2}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, starts)
	assert.Equal(t, []int{5, 4}, out.Shape)
	assert.Equal(t, float32(7), out.Data[7])
}

func TestOpenMapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seq.npy")
	require.NoError(t, npy.Write(path, []int{2, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8}))

	a, closeFn, err := OpenMapped(path)
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, []int{2, 2, 2}, a.Shape)
	assert.Equal(t, 2, a.Rows())
	assert.Equal(t, 4, a.RowDim())
	assert.Equal(t, float32(6), a.Row(1)[1])
}
