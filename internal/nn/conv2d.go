package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Conv2D is a 2D convolution over NHWC inputs with SAME padding and no bias
// (every convolution in the network is followed by batch normalization,
// which supplies the shift).
//
// Input shape:  [batch, height, width, in_channels]
// Weight shape: [kernel, kernel, in_channels, out_channels]
// Output shape: [batch, ceil(height/stride), ceil(width/stride), out_channels]
type Conv2D struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int

	weight *Parameter

	// Forward caches for the backward pass.
	input *tensor.Dense
}

// NewConv2D creates a convolution layer with He-normal initialized weights.
func NewConv2D(name string, inChannels, outChannels, kernel, stride int) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernel <= 0 || stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel=%d stride=%d", kernel, stride))
	}

	fanIn := inChannels * kernel * kernel
	weight := HeNormal(fanIn, kernel, kernel, inChannels, outChannels)

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernel:      kernel,
		stride:      stride,
		weight:      NewParameter(name+".weight", weight),
	}
}

// outDim computes a SAME-padded output dimension.
func outDim(in, stride int) int {
	return (in + stride - 1) / stride
}

// padBefore computes the leading SAME padding for one spatial dimension.
func padBefore(in, kernel, stride int) int {
	out := outDim(in, stride)
	total := (out-1)*stride + kernel - in
	if total < 0 {
		total = 0
	}
	return total / 2
}

// Forward performs the convolution. The input is cached for Backward.
func (c *Conv2D) Forward(x *tensor.Dense, _ bool) *tensor.Dense {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,H,W,C], got %dD", len(shape)))
	}
	if shape[3] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", shape[3], c.inChannels))
	}
	n, h, w := shape[0], shape[1], shape[2]
	oh, ow := outDim(h, c.stride), outDim(w, c.stride)
	padH, padW := padBefore(h, c.kernel, c.stride), padBefore(w, c.kernel, c.stride)

	in := x.Data().([]float64)
	wt := c.weight.Value.Data().([]float64)
	out := make([]float64, n*oh*ow*c.outChannels)

	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				outBase := ((b*oh+oy)*ow + ox) * c.outChannels
				for ky := 0; ky < c.kernel; ky++ {
					iy := oy*c.stride + ky - padH
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < c.kernel; kx++ {
						ix := ox*c.stride + kx - padW
						if ix < 0 || ix >= w {
							continue
						}
						inBase := ((b*h+iy)*w + ix) * c.inChannels
						wtBase := ((ky*c.kernel + kx) * c.inChannels) * c.outChannels
						for ic := 0; ic < c.inChannels; ic++ {
							v := in[inBase+ic]
							if v == 0 {
								continue
							}
							wRow := wtBase + ic*c.outChannels
							for oc := 0; oc < c.outChannels; oc++ {
								out[outBase+oc] += v * wt[wRow+oc]
							}
						}
					}
				}
			}
		}
	}

	c.input = x
	return tensor.New(tensor.WithShape(n, oh, ow, c.outChannels), tensor.WithBacking(out))
}

// Backward accumulates the weight gradient and returns the input gradient.
func (c *Conv2D) Backward(grad *tensor.Dense) *tensor.Dense {
	if c.input == nil {
		panic("conv2d: Backward called before Forward")
	}
	shape := c.input.Shape()
	n, h, w := shape[0], shape[1], shape[2]
	oh, ow := outDim(h, c.stride), outDim(w, c.stride)
	padH, padW := padBefore(h, c.kernel, c.stride), padBefore(w, c.kernel, c.stride)

	in := c.input.Data().([]float64)
	wt := c.weight.Value.Data().([]float64)
	dw := c.weight.Grad.Data().([]float64)
	dy := grad.Data().([]float64)
	dx := make([]float64, len(in))

	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				outBase := ((b*oh+oy)*ow + ox) * c.outChannels
				for ky := 0; ky < c.kernel; ky++ {
					iy := oy*c.stride + ky - padH
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < c.kernel; kx++ {
						ix := ox*c.stride + kx - padW
						if ix < 0 || ix >= w {
							continue
						}
						inBase := ((b*h+iy)*w + ix) * c.inChannels
						wtBase := ((ky*c.kernel + kx) * c.inChannels) * c.outChannels
						for ic := 0; ic < c.inChannels; ic++ {
							wRow := wtBase + ic*c.outChannels
							x := in[inBase+ic]
							var acc float64
							for oc := 0; oc < c.outChannels; oc++ {
								g := dy[outBase+oc]
								dw[wRow+oc] += x * g
								acc += wt[wRow+oc] * g
							}
							dx[inBase+ic] += acc
						}
					}
				}
			}
		}
	}

	c.input = nil
	return tensor.New(tensor.WithShape(n, h, w, c.inChannels), tensor.WithBacking(dx))
}

// Parameters returns the convolution weight.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight}
}

// OutputDim computes the spatial output size for one input dimension.
func (c *Conv2D) OutputDim(in int) int {
	return outDim(in, c.stride)
}

// String describes the layer configuration.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2D(in=%d, out=%d, kernel=%d, stride=%d, padding=same)",
		c.inChannels, c.outChannels, c.kernel, c.stride)
}
