package tensor

import (
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
// Panics if the shape is invalid.
func Zeros(shape Shape) *Tensor {
	t, err := New(shape)
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return Full(shape, 1)
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float32) *Tensor {
	t := Zeros(shape)
	t.Fill(value)
	return t
}

// Randn creates a tensor with values drawn from N(0, std²) using rng.
func Randn(shape Shape, std float64, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}

// Uniform creates a tensor with values drawn uniformly from [lo, hi) using rng.
func Uniform(shape Shape, lo, hi float64, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	span := hi - lo
	for i := range t.data {
		t.data[i] = float32(lo + rng.Float64()*span)
	}
	return t
}
