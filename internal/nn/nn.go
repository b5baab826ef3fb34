// Package nn provides the layers of the classifier as explicit
// forward/backward pairs over dense float64 tensors.
//
// Every layer caches what its backward pass needs during Forward and
// releases it in Backward. Gradients accumulate into Parameter.Grad; the
// optimizer consumes and clears them. Shape errors are programmer errors
// and panic; recoverable conditions return errors.
package nn

import (
	"gorgonia.org/tensor"
)

// Layer is one differentiable stage of the network.
//
// Forward's training flag selects training-time behavior (batch-norm
// statistics); layers without mode-dependent behavior ignore it. Backward
// takes the gradient with respect to the layer output and returns the
// gradient with respect to the layer input, accumulating parameter
// gradients along the way.
type Layer interface {
	Forward(x *tensor.Dense, training bool) *tensor.Dense
	Backward(grad *tensor.Dense) *tensor.Dense
	Parameters() []*Parameter
}

// Parameter is one trainable tensor with its gradient accumulator.
type Parameter struct {
	Name  string
	Value *tensor.Dense
	Grad  *tensor.Dense
}

// NewParameter wraps a value tensor with a zeroed gradient of the same shape.
func NewParameter(name string, value *tensor.Dense) *Parameter {
	return &Parameter{
		Name:  name,
		Value: value,
		Grad:  zeros(value.Shape()...),
	}
}

// ZeroGrad clears the gradient accumulator in place.
func (p *Parameter) ZeroGrad() {
	data := p.Grad.Data().([]float64)
	for i := range data {
		data[i] = 0
	}
}

// NumElements returns the number of scalars in the parameter.
func (p *Parameter) NumElements() int {
	return prod(p.Value.Shape())
}

func prod(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func zeros(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float64, prod(shape))))
}
