package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Dense is a fully connected layer: y = xW + b.
//
// Input shape:  [batch, in_features]
// Weight shape: [in_features, out_features]
// Output shape: [batch, out_features]
type Dense struct {
	inFeatures  int
	outFeatures int

	weight *Parameter
	bias   *Parameter

	input *tensor.Dense
}

// NewDense creates a fully connected layer with He-normal weights and zero
// bias.
func NewDense(name string, inFeatures, outFeatures int) *Dense {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("dense: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}
	return &Dense{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", HeNormal(inFeatures, inFeatures, outFeatures)),
		bias:        NewParameter(name+".bias", Zeros(outFeatures)),
	}
}

// Forward computes xW + b. The input is cached for Backward.
func (d *Dense) Forward(x *tensor.Dense, _ bool) *tensor.Dense {
	shape := x.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("dense: expected 2D input [N,D], got %dD", len(shape)))
	}
	if shape[1] != d.inFeatures {
		panic(fmt.Sprintf("dense: input features %d != expected %d", shape[1], d.inFeatures))
	}
	n := shape[0]

	in := x.Data().([]float64)
	w := d.weight.Value.Data().([]float64)
	b := d.bias.Value.Data().([]float64)
	out := make([]float64, n*d.outFeatures)

	for row := 0; row < n; row++ {
		outRow := out[row*d.outFeatures : (row+1)*d.outFeatures]
		copy(outRow, b)
		inRow := in[row*d.inFeatures : (row+1)*d.inFeatures]
		for i, v := range inRow {
			if v == 0 {
				continue
			}
			wRow := w[i*d.outFeatures : (i+1)*d.outFeatures]
			for j, wv := range wRow {
				outRow[j] += v * wv
			}
		}
	}

	d.input = x
	return tensor.New(tensor.WithShape(n, d.outFeatures), tensor.WithBacking(out))
}

// Backward accumulates weight/bias gradients and returns the input gradient.
func (d *Dense) Backward(grad *tensor.Dense) *tensor.Dense {
	if d.input == nil {
		panic("dense: Backward called before Forward")
	}
	n := d.input.Shape()[0]

	in := d.input.Data().([]float64)
	w := d.weight.Value.Data().([]float64)
	dw := d.weight.Grad.Data().([]float64)
	db := d.bias.Grad.Data().([]float64)
	dy := grad.Data().([]float64)
	dx := make([]float64, n*d.inFeatures)

	for row := 0; row < n; row++ {
		dyRow := dy[row*d.outFeatures : (row+1)*d.outFeatures]
		inRow := in[row*d.inFeatures : (row+1)*d.inFeatures]
		dxRow := dx[row*d.inFeatures : (row+1)*d.inFeatures]
		for j, g := range dyRow {
			db[j] += g
		}
		for i, v := range inRow {
			wRow := w[i*d.outFeatures : (i+1)*d.outFeatures]
			dwRow := dw[i*d.outFeatures : (i+1)*d.outFeatures]
			var acc float64
			for j, g := range dyRow {
				dwRow[j] += v * g
				acc += wRow[j] * g
			}
			dxRow[i] = acc
		}
	}

	d.input = nil
	return tensor.New(tensor.WithShape(n, d.inFeatures), tensor.WithBacking(dx))
}

// Parameters returns the weight and bias.
func (d *Dense) Parameters() []*Parameter {
	return []*Parameter{d.weight, d.bias}
}
