package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func TestReLU_ForwardAndMask(t *testing.T) {
	relu := NewReLU()
	x := tensor.New(tensor.WithShape(1, 6), tensor.WithBacking([]float64{-2, -0.5, 0, 0.5, 2, -3}))

	y := relu.Forward(x, true)
	assert.Equal(t, []float64{0, 0, 0, 0.5, 2, 0}, y.Data().([]float64))

	// The gradient passes only where the input was positive.
	grad := tensor.New(tensor.WithShape(1, 6), tensor.WithBacking([]float64{1, 1, 1, 1, 1, 1}))
	dx := relu.Backward(grad)
	assert.Equal(t, []float64{0, 0, 0, 1, 1, 0}, dx.Data().([]float64))
}

func TestGlobalAvgPool_KnownValues(t *testing.T) {
	pool := NewGlobalAvgPool()
	// One sample, 2x2 spatial, 2 channels.
	x := tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking([]float64{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	}))

	y := pool.Forward(x, true)
	assert.True(t, tensor.Shape{1, 2}.Eq(y.Shape()))
	assert.InDeltaSlice(t, []float64{2.5, 25}, y.Data().([]float64), 1e-12)

	grad := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float64{4, 8}))
	dx := pool.Backward(grad)
	assert.True(t, tensor.Shape{1, 2, 2, 2}.Eq(dx.Shape()))
	assert.InDeltaSlice(t, []float64{1, 2, 1, 2, 1, 2, 1, 2}, dx.Data().([]float64), 1e-12)
}
