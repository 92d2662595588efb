package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tagger/internal/tensor"
)

// TestMaxPool2D_BasicForward tests 2x2 pooling with stride 2.
func TestMaxPool2D_BasicForward(t *testing.T) {
	backend := New()

	input := mustTensor(t, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, tensor.Shape{1, 1, 4, 4})

	output, idx := backend.MaxPool2D(input, 2, 2)

	require.Equal(t, tensor.Shape{1, 1, 2, 2}, output.Shape())
	assert.Equal(t, []float32{6, 8, 14, 16}, output.Data())
	assert.Equal(t, []int{5, 7, 13, 15}, idx)
}

// TestMaxPool2D_SameOddInput checks ceil output and bottom/right padding.
func TestMaxPool2D_SameOddInput(t *testing.T) {
	backend := New()

	input := mustTensor(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})

	output, idx := backend.MaxPool2D(input, 2, 2)

	require.Equal(t, tensor.Shape{1, 1, 2, 2}, output.Shape())
	assert.Equal(t, []float32{5, 6, 8, 9}, output.Data())
	assert.Equal(t, []int{4, 5, 7, 8}, idx)
}

func TestMaxPool2D_NegativeValues(t *testing.T) {
	backend := New()

	input := mustTensor(t, []float32{-4, -3, -2, -1, -8, -7}, tensor.Shape{1, 1, 1, 6})
	output, _ := backend.MaxPool2D(input, 2, 2)

	assert.Equal(t, []float32{-3, -1, -7}, output.Data())
}

func TestMaxPool2D_MultiChannelBatch(t *testing.T) {
	backend := NewWithThreads(3)

	data := make([]float32, 2*3*2*2)
	for i := range data {
		data[i] = float32(i)
	}
	input := mustTensor(t, data, tensor.Shape{2, 3, 2, 2})

	output, _ := backend.MaxPool2D(input, 2, 2)

	require.Equal(t, tensor.Shape{2, 3, 1, 1}, output.Shape())
	// Every plane is increasing, so the last element of each plane wins.
	assert.Equal(t, []float32{3, 7, 11, 15, 19, 23}, output.Data())
}

func TestMaxPool2DBackward_RoutesToArgmax(t *testing.T) {
	backend := New()

	input := mustTensor(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})
	output, idx := backend.MaxPool2D(input, 2, 2)

	grad := mustTensor(t, []float32{10, 20, 30, 40}, output.Shape())
	dx := backend.MaxPool2DBackward(input.Shape(), grad, idx)

	assert.Equal(t, []float32{
		0, 0, 0,
		0, 10, 20,
		0, 30, 40,
	}, dx.Data())
}

func TestPoolOutputSize(t *testing.T) {
	assert.Equal(t, 64, PoolOutputSize(128, 2))
	assert.Equal(t, 2, PoolOutputSize(3, 2))
	assert.Equal(t, 1, PoolOutputSize(1, 2))
}
