// Package trainer wires the input pipeline, network, loss, optimizer and
// schedule into the model function and the outer train/eval loop.
package trainer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/born-ml/cifar/internal/checkpoint"
	"github.com/born-ml/cifar/internal/dataset"
	"github.com/born-ml/cifar/internal/nn"
	"github.com/born-ml/cifar/internal/optim"
	"github.com/born-ml/cifar/internal/resnet"
)

// Reference training constants.
const (
	// WeightDecay is the L2 coefficient applied to every trainable
	// parameter, batch-norm scale and shift included. Deliberate: the
	// reference configuration decays all trainable variables uniformly.
	WeightDecay = 2e-4
	// Momentum is the optimizer's momentum factor.
	Momentum = 0.9
)

// Spec is the outcome of applying the model function to one batch. Which
// fields are populated depends on the mode: predictions always; loss and
// metrics in train and eval; the learning rate in train only.
type Spec struct {
	// Classes is the predicted class index per sample.
	Classes []int
	// Probabilities is the softmax distribution per sample [N, classes].
	Probabilities *tensor.Dense

	// CrossEntropy is the mean softmax cross-entropy of the batch.
	CrossEntropy float64
	// Loss is CrossEntropy plus the weight-decay term.
	Loss float64
	// Accuracy is the running accuracy after folding in this batch.
	Accuracy float64
	// LearningRate is the schedule value used by the train step.
	LearningRate float64
}

// Model is the mode-polymorphic model function. It owns the network, the
// optimizer, the learning-rate schedule, the global step and the running
// accuracy metric. The driver never mutates any of that directly; it only
// calls Apply.
type Model struct {
	net      *resnet.Network
	sgd      *optim.SGD
	schedule *optim.PiecewiseConstant

	globalStep int64
	accuracy   accuracyMetric
}

// NewModel assembles the model function for a network, with the momentum
// optimizer and the reference schedule for the given batch and epoch sizes.
func NewModel(net *resnet.Network, batchSize, epochSize int) (*Model, error) {
	schedule, err := optim.CIFARSchedule(batchSize, epochSize)
	if err != nil {
		return nil, err
	}
	base := schedule.At(0)
	return &Model{
		net: net,
		sgd: optim.NewSGD(net.Parameters(), optim.SGDConfig{
			LR:       base,
			Momentum: Momentum,
		}),
		schedule: schedule,
	}, nil
}

// Apply runs the model function on one batch in the given mode.
//
// Predict computes predictions only; no loss, metrics or update (label data
// may be absent). Eval adds the regularized loss and folds the batch into
// the running accuracy. Train additionally backpropagates, commits the
// pending batch-norm statistics, applies the momentum update at the
// scheduled rate, and increments the global step exactly once.
func (m *Model) Apply(batch *dataset.Batch, mode dataset.Mode) (*Spec, error) {
	if batch == nil || batch.Size == 0 {
		return nil, fmt.Errorf("trainer: empty batch")
	}

	logits := m.net.Forward(batch.Images, mode == dataset.Train)
	spec := &Spec{
		Classes:       nn.Argmax(logits),
		Probabilities: nn.Softmax(logits),
	}

	switch mode {
	case dataset.Predict:
		return spec, nil
	case dataset.Train, dataset.Eval:
		// fall through below
	default:
		return nil, fmt.Errorf("trainer: unknown mode %s", mode)
	}

	if batch.Labels == nil {
		return nil, fmt.Errorf("trainer: mode %s requires labels", mode)
	}

	ce, dlogits := nn.SoftmaxCrossEntropy(logits, batch.Labels)
	spec.CrossEntropy = ce
	spec.Loss = ce + WeightDecay*m.l2Term()

	m.accuracy.update(batch.Labels, spec.Classes)
	spec.Accuracy = m.accuracy.rate()

	if mode == dataset.Eval {
		return spec, nil
	}

	m.net.Backward(dlogits)
	m.applyWeightDecayGrads()

	lr := m.schedule.At(m.globalStep)
	spec.LearningRate = lr
	m.sgd.SetLR(lr)

	// Pending normalization statistics are an explicit dependency of the
	// train step: commit them before the parameter update completes.
	m.net.CommitStats()
	m.sgd.Step()
	m.sgd.ZeroGrad()
	m.globalStep++

	return spec, nil
}

// l2Term returns sum(||p||^2) over all trainable parameters.
func (m *Model) l2Term() float64 {
	var sum float64
	for _, p := range m.net.Parameters() {
		sum += nn.L2NormSquared(p)
	}
	return sum
}

// applyWeightDecayGrads adds the decay gradient 2*lambda*p to every
// parameter gradient.
func (m *Model) applyWeightDecayGrads() {
	for _, p := range m.net.Parameters() {
		floats.AddScaled(p.Grad.Data().([]float64), 2*WeightDecay, p.Value.Data().([]float64))
	}
}

// GlobalStep returns the number of completed train steps.
func (m *Model) GlobalStep() int64 {
	return m.globalStep
}

// ResetMetrics clears the running accuracy; called at the start of every
// bounded training run and every evaluation pass.
func (m *Model) ResetMetrics() {
	m.accuracy.reset()
}

// Network returns the underlying network.
func (m *Model) Network() *resnet.Network {
	return m.net
}

// optimizerPrefix namespaces optimizer entries inside a checkpoint.
const optimizerPrefix = "optimizer."

// StateDict exports the complete ModelState: network parameters and running
// statistics, optimizer velocities (prefixed), and the global step.
func (m *Model) StateDict() *checkpoint.State {
	st := &checkpoint.State{
		Step:    m.globalStep,
		Tensors: make(map[string]checkpoint.Entry),
	}
	for name, t := range m.net.StateDict() {
		st.Tensors[name] = checkpoint.FromDense(t)
	}
	for name, t := range m.sgd.StateDict() {
		st.Tensors[optimizerPrefix+name] = checkpoint.FromDense(t)
	}
	return st
}

// LoadStateDict restores a snapshot produced by StateDict.
func (m *Model) LoadStateDict(st *checkpoint.State) error {
	model := make(map[string]*tensor.Dense)
	optimizer := make(map[string]*tensor.Dense)
	for name, e := range st.Tensors {
		if len(name) > len(optimizerPrefix) && name[:len(optimizerPrefix)] == optimizerPrefix {
			optimizer[name[len(optimizerPrefix):]] = e.Dense()
		} else {
			model[name] = e.Dense()
		}
	}
	if err := m.net.LoadStateDict(model); err != nil {
		return err
	}
	if err := m.sgd.LoadStateDict(optimizer); err != nil {
		return err
	}
	m.globalStep = st.Step
	return nil
}
