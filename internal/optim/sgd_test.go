package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/born-ml/cifar/internal/nn"
)

func newParam(name string, values ...float64) *nn.Parameter {
	backing := append([]float64(nil), values...)
	return nn.NewParameter(name, tensor.New(tensor.WithShape(len(values)), tensor.WithBacking(backing)))
}

func setGrad(p *nn.Parameter, values ...float64) {
	copy(p.Grad.Data().([]float64), values)
}

func TestSGD_VanillaStep(t *testing.T) {
	p := newParam("w", 1, 2)
	sgd := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.5})

	setGrad(p, 1, -2)
	sgd.Step()

	assert.InDeltaSlice(t, []float64{0.5, 3}, p.Value.Data().([]float64), 1e-12)
}

func TestSGD_MomentumAccumulates(t *testing.T) {
	p := newParam("w", 0)
	sgd := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 1, Momentum: 0.9})

	// Constant gradient 1. Velocities: 1, 1.9, 2.71.
	setGrad(p, 1)
	sgd.Step()
	assert.InDelta(t, -1, p.Value.Data().([]float64)[0], 1e-12)

	sgd.Step()
	assert.InDelta(t, -1-1.9, p.Value.Data().([]float64)[0], 1e-12)

	sgd.Step()
	assert.InDelta(t, -1-1.9-2.71, p.Value.Data().([]float64)[0], 1e-12)
}

func TestSGD_SetLR(t *testing.T) {
	p := newParam("w", 0)
	sgd := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1})
	require.Equal(t, 0.1, sgd.LR())

	sgd.SetLR(0.01)
	assert.Equal(t, 0.01, sgd.LR())

	setGrad(p, 1)
	sgd.Step()
	assert.InDelta(t, -0.01, p.Value.Data().([]float64)[0], 1e-12)
}

func TestSGD_ZeroGrad(t *testing.T) {
	p := newParam("w", 0, 0)
	sgd := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1})

	setGrad(p, 3, 4)
	sgd.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, p.Grad.Data().([]float64))
}

func TestSGD_StateDictRoundTrip(t *testing.T) {
	p1 := newParam("a", 0, 0)
	p2 := newParam("b", 0)
	sgd := NewSGD([]*nn.Parameter{p1, p2}, SGDConfig{LR: 0.1, Momentum: 0.9})

	setGrad(p1, 1, 2)
	setGrad(p2, 3)
	sgd.Step()

	state := sgd.StateDict()
	require.Len(t, state, 2)

	// A fresh optimizer restored from the state resumes the same trajectory.
	q1 := newParam("a", 0, 0)
	q2 := newParam("b", 0)
	copy(q1.Value.Data().([]float64), p1.Value.Data().([]float64))
	copy(q2.Value.Data().([]float64), p2.Value.Data().([]float64))
	restored := NewSGD([]*nn.Parameter{q1, q2}, SGDConfig{LR: 0.1, Momentum: 0.9})
	require.NoError(t, restored.LoadStateDict(state))

	setGrad(p1, 1, 2)
	setGrad(p2, 3)
	sgd.Step()
	setGrad(q1, 1, 2)
	setGrad(q2, 3)
	restored.Step()

	assert.InDeltaSlice(t, p1.Value.Data().([]float64), q1.Value.Data().([]float64), 1e-12)
	assert.InDeltaSlice(t, p2.Value.Data().([]float64), q2.Value.Data().([]float64), 1e-12)
}

func TestSGD_LoadStateDictShapeMismatch(t *testing.T) {
	p := newParam("a", 0, 0)
	sgd := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1, Momentum: 0.9})

	state := map[string]*tensor.Dense{
		"velocity.0": tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{1, 2, 3})),
	}
	assert.Error(t, sgd.LoadStateDict(state))
}

func TestSGD_NoMomentumStateIsEmpty(t *testing.T) {
	p := newParam("a", 0)
	sgd := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1})

	setGrad(p, 1)
	sgd.Step()
	assert.Empty(t, sgd.StateDict())
}
