package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlice_CopiesData(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5, 6}
	x, err := FromSlice(src, Shape{2, 3})
	require.NoError(t, err)

	src[0] = 100
	assert.Equal(t, float32(1), x.At(0, 0))
	assert.Equal(t, float32(6), x.At(1, 2))
}

func TestFromSlice_ShapeMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNew_InvalidShape(t *testing.T) {
	_, err := New(Shape{2, 0})
	require.Error(t, err)
}

func TestReshape_SharesData(t *testing.T) {
	x := Zeros(Shape{2, 3, 4})
	y := x.Reshape(2, 12)
	y.Data()[5] = 7

	assert.Equal(t, Shape{2, 12}, y.Shape())
	assert.Equal(t, float32(7), x.Data()[5])
	assert.Panics(t, func() { x.Reshape(5, 5) })
}

func TestClone_IsDeep(t *testing.T) {
	x := Ones(Shape{3})
	y := x.Clone()
	y.Data()[0] = 5
	assert.Equal(t, float32(1), x.Data()[0])
}

func TestCopyFrom(t *testing.T) {
	dst := Zeros(Shape{2, 2})
	require.NoError(t, dst.CopyFrom(Full(Shape{2, 2}, 3)))
	assert.Equal(t, []float32{3, 3, 3, 3}, dst.Data())
	require.ErrorIs(t, dst.CopyFrom(Zeros(Shape{4})), ErrShapeMismatch)
}

func TestIsFinite(t *testing.T) {
	x := Ones(Shape{4})
	assert.True(t, x.IsFinite())

	x.Data()[2] = float32(math.NaN())
	assert.False(t, x.IsFinite())

	x.Data()[2] = float32(math.Inf(-1))
	assert.False(t, x.IsFinite())
}

func TestComputeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())
	assert.Empty(t, Shape{}.ComputeStrides())
}

func TestRandn_Deterministic(t *testing.T) {
	a := Randn(Shape{16}, 0.1, rand.New(rand.NewSource(7)))
	b := Randn(Shape{16}, 0.1, rand.New(rand.NewSource(7)))
	assert.Equal(t, a.Data(), b.Data())
}

func TestUniform_Bounds(t *testing.T) {
	x := Uniform(Shape{1000}, -0.5, 0.5, rand.New(rand.NewSource(1)))
	for _, v := range x.Data() {
		assert.GreaterOrEqual(t, v, float32(-0.5))
		assert.Less(t, v, float32(0.5))
	}
}
