package nn

import (
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// HeNormal initializes a weight tensor with values drawn from N(0, 2/fanIn),
// the variance-scaling scheme used for ReLU networks.
func HeNormal(fanIn int, shape ...int) *tensor.Dense {
	std := math.Sqrt(2.0 / float64(fanIn))
	data := make([]float64, prod(shape))
	for i := range data {
		//nolint:gosec // weight initialization is not security-critical
		data[i] = rand.NormFloat64() * std
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// Ones allocates a tensor filled with ones, the usual batch-norm scale init.
func Ones(shape ...int) *tensor.Dense {
	data := make([]float64, prod(shape))
	for i := range data {
		data[i] = 1
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) *tensor.Dense {
	return zeros(shape...)
}
