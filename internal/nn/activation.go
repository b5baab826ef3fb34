package nn

import (
	"gorgonia.org/tensor"
)

// ReLU applies f(x) = max(0, x) element-wise. Each instance caches its own
// activation mask, so a distinct instance is used at every point the
// network applies the nonlinearity.
type ReLU struct {
	mask []bool
}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward zeroes negative entries and records the mask for Backward.
func (r *ReLU) Forward(x *tensor.Dense, _ bool) *tensor.Dense {
	in := x.Data().([]float64)
	out := make([]float64, len(in))
	mask := make([]bool, len(in))
	for i, v := range in {
		if v > 0 {
			out[i] = v
			mask[i] = true
		}
	}
	r.mask = mask
	return tensor.New(tensor.WithShape(x.Shape()...), tensor.WithBacking(out))
}

// Backward passes gradients through where the input was positive.
func (r *ReLU) Backward(grad *tensor.Dense) *tensor.Dense {
	if r.mask == nil {
		panic("relu: Backward called before Forward")
	}
	dy := grad.Data().([]float64)
	dx := make([]float64, len(dy))
	for i, v := range dy {
		if r.mask[i] {
			dx[i] = v
		}
	}
	shape := grad.Shape()
	r.mask = nil
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(dx))
}

// Parameters returns nil; ReLU is parameter-free.
func (r *ReLU) Parameters() []*Parameter {
	return nil
}
