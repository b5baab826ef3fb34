package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// GlobalAvgPool averages each channel over the full spatial extent,
// reducing [N,H,W,C] to [N,C]. The network applies it once, between the
// final activation and the dense head.
type GlobalAvgPool struct {
	shape tensor.Shape
}

// NewGlobalAvgPool creates the pooling layer.
func NewGlobalAvgPool() *GlobalAvgPool {
	return &GlobalAvgPool{}
}

// Forward reduces the spatial dimensions by their mean.
func (p *GlobalAvgPool) Forward(x *tensor.Dense, _ bool) *tensor.Dense {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("globalavgpool: expected 4D input [N,H,W,C], got %dD", len(shape)))
	}
	n, h, w, c := shape[0], shape[1], shape[2], shape[3]

	in := x.Data().([]float64)
	out := make([]float64, n*c)
	area := float64(h * w)
	for b := 0; b < n; b++ {
		base := b * h * w * c
		for i := 0; i < h*w; i++ {
			for ch := 0; ch < c; ch++ {
				out[b*c+ch] += in[base+i*c+ch]
			}
		}
		for ch := 0; ch < c; ch++ {
			out[b*c+ch] /= area
		}
	}

	p.shape = shape
	return tensor.New(tensor.WithShape(n, c), tensor.WithBacking(out))
}

// Backward spreads each channel gradient uniformly over the pooled area.
func (p *GlobalAvgPool) Backward(grad *tensor.Dense) *tensor.Dense {
	if p.shape == nil {
		panic("globalavgpool: Backward called before Forward")
	}
	n, h, w, c := p.shape[0], p.shape[1], p.shape[2], p.shape[3]
	dy := grad.Data().([]float64)
	dx := make([]float64, n*h*w*c)
	area := float64(h * w)
	for b := 0; b < n; b++ {
		base := b * h * w * c
		for i := 0; i < h*w; i++ {
			for ch := 0; ch < c; ch++ {
				dx[base+i*c+ch] = dy[b*c+ch] / area
			}
		}
	}
	shape := p.shape
	p.shape = nil
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(dx))
}

// Parameters returns nil; pooling is parameter-free.
func (p *GlobalAvgPool) Parameters() []*Parameter {
	return nil
}
