// Package optim implements the training-time optimization pieces: momentum
// SGD over explicit parameter gradients, and the piecewise-constant
// learning-rate schedule.
package optim

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/born-ml/cifar/internal/nn"
)

// SGD implements stochastic gradient descent with momentum:
//
//	velocity = momentum * velocity + gradient
//	param    = param - lr * velocity
//
// The learning rate is set per step by the caller (the schedule is a pure
// function of the global step, owned by the model function).
type SGD struct {
	params     []*nn.Parameter
	lr         float64
	momentum   float64
	velocities map[*nn.Parameter][]float64
}

// SGDConfig holds the optimizer configuration.
type SGDConfig struct {
	LR       float64 // initial learning rate
	Momentum float64 // momentum factor, in [0, 1)
}

// NewSGD creates the optimizer over the given parameters.
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	return &SGD{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter][]float64, len(params)),
	}
}

// Step applies one momentum update to every parameter from its accumulated
// gradient. Velocity buffers are allocated on first use.
func (s *SGD) Step() {
	for _, p := range s.params {
		grad := p.Grad.Data().([]float64)
		value := p.Value.Data().([]float64)

		if s.momentum == 0 {
			for i := range value {
				value[i] -= s.lr * grad[i]
			}
			continue
		}

		v, ok := s.velocities[p]
		if !ok {
			v = make([]float64, len(value))
			s.velocities[p] = v
		}
		for i := range value {
			v[i] = s.momentum*v[i] + grad[i]
			value[i] -= s.lr * v[i]
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 {
	return s.lr
}

// SetLR updates the learning rate before the next Step.
func (s *SGD) SetLR(lr float64) {
	s.lr = lr
}

// StateDict exports the velocity buffers for checkpointing, keyed by
// parameter index. Without momentum the state is empty.
func (s *SGD) StateDict() map[string]*tensor.Dense {
	state := make(map[string]*tensor.Dense)
	if s.momentum == 0 {
		return state
	}
	for i, p := range s.params {
		v, ok := s.velocities[p]
		if !ok {
			continue // untouched by any Step yet
		}
		backing := make([]float64, len(v))
		copy(backing, v)
		state[fmt.Sprintf("velocity.%d", i)] = tensor.New(
			tensor.WithShape(p.Value.Shape()...), tensor.WithBacking(backing))
	}
	return state
}

// LoadStateDict restores velocity buffers exported by StateDict. Missing
// entries remain lazily initialized; shape mismatches are errors.
func (s *SGD) LoadStateDict(state map[string]*tensor.Dense) error {
	if s.momentum == 0 {
		return nil
	}
	s.velocities = make(map[*nn.Parameter][]float64, len(s.params))
	for i, p := range s.params {
		src, ok := state[fmt.Sprintf("velocity.%d", i)]
		if !ok {
			continue
		}
		if !src.Shape().Eq(p.Value.Shape()) {
			return fmt.Errorf("optim: velocity shape mismatch for parameter %d (%s): got %v, want %v",
				i, p.Name, src.Shape(), p.Value.Shape())
		}
		v := make([]float64, len(p.Value.Data().([]float64)))
		copy(v, src.Data().([]float64))
		s.velocities[p] = v
	}
	return nil
}
