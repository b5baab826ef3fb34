package nn

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// Batch-norm hyperparameters shared by every normalization layer in the
// network. The decay matches the reference configuration.
const (
	// BatchNormMomentum is the running-statistics decay.
	BatchNormMomentum = 0.997
	// BatchNormEpsilon keeps the variance denominator away from zero.
	BatchNormEpsilon = 1e-5
)

// BatchNorm normalizes NHWC activations per channel.
//
// In training mode the layer normalizes with the batch moments and records
// them as a pending running-statistics update; the update is only applied
// when CommitStats is called. The train step commits pending statistics
// before the optimizer update completes, an explicit ordering contract:
// without it, evaluation-time normalization drifts out of sync with the
// statistics seen during training.
//
// In evaluation and prediction the running statistics are used read-only.
type BatchNorm struct {
	channels int

	gamma *Parameter
	beta  *Parameter

	runningMean *tensor.Dense
	runningVar  *tensor.Dense

	// Pending batch moments, set by a training-mode Forward and consumed by
	// CommitStats.
	pendingMean []float64
	pendingVar  []float64

	// Forward caches for the backward pass.
	xhat   []float64
	invStd []float64
	shape  tensor.Shape
}

// NewBatchNorm creates a batch normalization layer over the given channel
// count. Scale starts at one, shift at zero, running variance at one.
func NewBatchNorm(name string, channels int) *BatchNorm {
	if channels <= 0 {
		panic(fmt.Sprintf("batchnorm: invalid channel count %d", channels))
	}
	return &BatchNorm{
		channels:    channels,
		gamma:       NewParameter(name+".gamma", Ones(channels)),
		beta:        NewParameter(name+".beta", Zeros(channels)),
		runningMean: Zeros(channels),
		runningVar:  Ones(channels),
	}
}

// Forward normalizes x per channel. Training mode uses batch moments and
// leaves them pending for CommitStats; otherwise the running statistics are
// used and nothing is recorded.
func (l *BatchNorm) Forward(x *tensor.Dense, training bool) *tensor.Dense {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm: expected 4D input [N,H,W,C], got %dD", len(shape)))
	}
	if shape[3] != l.channels {
		panic(fmt.Sprintf("batchnorm: input channels %d != expected %d", shape[3], l.channels))
	}

	in := x.Data().([]float64)
	m := len(in) / l.channels // elements per channel

	var mean, variance []float64
	if training {
		mean = make([]float64, l.channels)
		variance = make([]float64, l.channels)
		for i, v := range in {
			mean[i%l.channels] += v
		}
		for c := range mean {
			mean[c] /= float64(m)
		}
		for i, v := range in {
			c := i % l.channels
			d := v - mean[c]
			variance[c] += d * d
		}
		for c := range variance {
			variance[c] /= float64(m)
		}
		l.pendingMean = mean
		l.pendingVar = variance
	} else {
		mean = l.runningMean.Data().([]float64)
		variance = l.runningVar.Data().([]float64)
	}

	invStd := make([]float64, l.channels)
	for c := 0; c < l.channels; c++ {
		invStd[c] = 1.0 / math.Sqrt(variance[c]+BatchNormEpsilon)
	}

	g := l.gamma.Value.Data().([]float64)
	b := l.beta.Value.Data().([]float64)
	xhat := make([]float64, len(in))
	out := make([]float64, len(in))
	for i, v := range in {
		c := i % l.channels
		xh := (v - mean[c]) * invStd[c]
		xhat[i] = xh
		out[i] = g[c]*xh + b[c]
	}

	if training {
		l.xhat = xhat
		l.invStd = invStd
		l.shape = shape
	} else {
		l.xhat, l.invStd = nil, nil
	}

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out))
}

// Backward computes gradients for gamma, beta and the input. Only valid
// after a training-mode Forward.
func (l *BatchNorm) Backward(grad *tensor.Dense) *tensor.Dense {
	if l.xhat == nil {
		panic("batchnorm: Backward called without a training-mode Forward")
	}

	dy := grad.Data().([]float64)
	g := l.gamma.Value.Data().([]float64)
	dg := l.gamma.Grad.Data().([]float64)
	db := l.beta.Grad.Data().([]float64)

	m := len(dy) / l.channels
	sumDy := make([]float64, l.channels)
	sumDyXhat := make([]float64, l.channels)
	for i, v := range dy {
		c := i % l.channels
		sumDy[c] += v
		sumDyXhat[c] += v * l.xhat[i]
	}
	for c := 0; c < l.channels; c++ {
		dg[c] += sumDyXhat[c]
		db[c] += sumDy[c]
	}

	dx := make([]float64, len(dy))
	for i, v := range dy {
		c := i % l.channels
		dx[i] = g[c] * l.invStd[c] / float64(m) *
			(float64(m)*v - sumDy[c] - l.xhat[i]*sumDyXhat[c])
	}

	shape := l.shape
	l.xhat, l.invStd = nil, nil
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(dx))
}

// CommitStats folds the pending batch moments into the running statistics:
//
//	running = momentum*running + (1-momentum)*batch
//
// No-op when nothing is pending (no training-mode Forward since the last
// commit).
func (l *BatchNorm) CommitStats() {
	if l.pendingMean == nil {
		return
	}
	rm := l.runningMean.Data().([]float64)
	rv := l.runningVar.Data().([]float64)
	for c := 0; c < l.channels; c++ {
		rm[c] = BatchNormMomentum*rm[c] + (1-BatchNormMomentum)*l.pendingMean[c]
		rv[c] = BatchNormMomentum*rv[c] + (1-BatchNormMomentum)*l.pendingVar[c]
	}
	l.pendingMean, l.pendingVar = nil, nil
}

// HasPendingStats reports whether a training-mode Forward has produced
// statistics that CommitStats has not applied yet.
func (l *BatchNorm) HasPendingStats() bool {
	return l.pendingMean != nil
}

// Parameters returns the trainable scale and shift. Running statistics are
// state, not parameters; they are exposed separately for checkpointing.
func (l *BatchNorm) Parameters() []*Parameter {
	return []*Parameter{l.gamma, l.beta}
}

// RunningMean returns the running mean tensor (mutable, used by checkpoint
// restore).
func (l *BatchNorm) RunningMean() *tensor.Dense { return l.runningMean }

// RunningVar returns the running variance tensor.
func (l *BatchNorm) RunningVar() *tensor.Dense { return l.runningVar }
