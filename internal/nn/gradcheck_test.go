package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// randTensor fills a tensor with small random values.
func randTensor(rng *rand.Rand, shape ...int) *tensor.Dense {
	data := make([]float64, prod(shape))
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// scalarLoss evaluates L = sum(c * f(x)) for the gradient checks below.
func scalarLoss(out *tensor.Dense, c []float64) float64 {
	return floats.Dot(out.Data().([]float64), c)
}

// checkGradients verifies a layer's analytic input and parameter gradients
// against central differences of the scalar loss L = sum(c * Forward(x)).
func checkGradients(t *testing.T, layer Layer, x *tensor.Dense, rng *rand.Rand, tol float64) {
	t.Helper()

	out := layer.Forward(x, true)
	c := make([]float64, len(out.Data().([]float64)))
	for i := range c {
		c[i] = rng.NormFloat64()
	}
	cTensor := tensor.New(tensor.WithShape(out.Shape()...), tensor.WithBacking(append([]float64(nil), c...)))

	for _, p := range layer.Parameters() {
		p.ZeroGrad()
	}
	dx := layer.Backward(cTensor).Data().([]float64)

	const eps = 1e-6
	forward := func() float64 {
		return scalarLoss(layer.Forward(x, true), c)
	}

	// Input gradient.
	xd := x.Data().([]float64)
	for i := 0; i < len(xd); i++ {
		orig := xd[i]
		xd[i] = orig + eps
		plus := forward()
		xd[i] = orig - eps
		minus := forward()
		xd[i] = orig
		numeric := (plus - minus) / (2 * eps)
		require.InDelta(t, numeric, dx[i], tol, "input gradient at %d", i)
	}

	// Parameter gradients.
	for _, p := range layer.Parameters() {
		pd := p.Value.Data().([]float64)
		grad := append([]float64(nil), p.Grad.Data().([]float64)...)
		for i := 0; i < len(pd); i++ {
			orig := pd[i]
			pd[i] = orig + eps
			plus := forward()
			pd[i] = orig - eps
			minus := forward()
			pd[i] = orig
			numeric := (plus - minus) / (2 * eps)
			require.InDelta(t, numeric, grad[i], tol, "gradient of %s at %d", p.Name, i)
		}
	}
}

func TestConv2D_GradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	conv := NewConv2D("t", 2, 3, 3, 1)
	checkGradients(t, conv, randTensor(rng, 2, 4, 4, 2), rng, 1e-5)
}

func TestConv2D_StridedGradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	conv := NewConv2D("t", 2, 3, 3, 2)
	checkGradients(t, conv, randTensor(rng, 1, 5, 5, 2), rng, 1e-5)
}

func TestBatchNorm_GradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	bn := NewBatchNorm("t", 2)
	// Non-trivial scale/shift so their gradients are exercised.
	copy(bn.gamma.Value.Data().([]float64), []float64{1.5, 0.5})
	copy(bn.beta.Value.Data().([]float64), []float64{0.2, -0.1})
	checkGradients(t, bn, randTensor(rng, 2, 3, 3, 2), rng, 1e-4)
}

func TestDense_GradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(24))
	dense := NewDense("t", 5, 4)
	checkGradients(t, dense, randTensor(rng, 3, 5), rng, 1e-5)
}

func TestReLU_GradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(25))
	relu := NewReLU()
	// Keep inputs away from the kink at zero.
	x := randTensor(rng, 2, 3, 3, 2)
	data := x.Data().([]float64)
	for i := range data {
		if data[i] > -0.01 && data[i] < 0.01 {
			data[i] = 0.5
		}
	}
	checkGradients(t, relu, x, rng, 1e-5)
}

func TestGlobalAvgPool_GradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(26))
	pool := NewGlobalAvgPool()
	checkGradients(t, pool, randTensor(rng, 2, 4, 4, 3), rng, 1e-5)
}
