package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestConv2D_OutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(51))
	tests := []struct {
		name    string
		in, out int
		kernel  int
		stride  int
		h, w    int
		oh, ow  int
	}{
		{"same_stride1", 3, 16, 3, 1, 32, 32, 32, 32},
		{"downsample_stride2", 16, 32, 3, 2, 32, 32, 16, 16},
		{"odd_input_stride2", 16, 32, 3, 2, 5, 5, 3, 3},
		{"projection_1x1", 16, 32, 1, 2, 8, 8, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewConv2D("c", tt.in, tt.out, tt.kernel, tt.stride)
			y := conv.Forward(randTensor(rng, 2, tt.h, tt.w, tt.in), true)
			assert.True(t, tensor.Shape{2, tt.oh, tt.ow, tt.out}.Eq(y.Shape()),
				"got %v", y.Shape())
			assert.Equal(t, tt.oh, conv.OutputDim(tt.h))
		})
	}
}

func TestConv2D_IdentityKernel(t *testing.T) {
	rng := rand.New(rand.NewSource(52))
	conv := NewConv2D("c", 2, 2, 3, 1)

	// A 3x3 kernel whose center is the identity map copies the input through
	// SAME padding untouched.
	wt := conv.weight.Value.Data().([]float64)
	for i := range wt {
		wt[i] = 0
	}
	center := (1*3 + 1) * 2 * 2 // ky=1, kx=1
	wt[center+0*2+0] = 1        // in 0 -> out 0
	wt[center+1*2+1] = 1        // in 1 -> out 1

	x := randTensor(rng, 1, 4, 4, 2)
	y := conv.Forward(x, true)

	require.True(t, x.Shape().Eq(y.Shape()))
	assert.InDeltaSlice(t, x.Data().([]float64), y.Data().([]float64), 1e-12)
}

func TestConv2D_ChannelMismatchPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(53))
	conv := NewConv2D("c", 3, 8, 3, 1)
	assert.Panics(t, func() {
		conv.Forward(randTensor(rng, 1, 4, 4, 2), true)
	})
}

func TestConv2D_InvalidConfigPanics(t *testing.T) {
	assert.Panics(t, func() { NewConv2D("c", 0, 8, 3, 1) })
	assert.Panics(t, func() { NewConv2D("c", 3, 8, 3, 0) })
}
