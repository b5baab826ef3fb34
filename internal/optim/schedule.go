package optim

import (
	"fmt"
)

// PiecewiseConstant is a step-indexed learning-rate schedule: values[0]
// before boundaries[0], values[i] between boundaries[i-1] and boundaries[i],
// values[len] after the last boundary. It is a pure function of the step;
// it holds no state.
type PiecewiseConstant struct {
	boundaries []int64
	values     []float64
}

// NewPiecewiseConstant builds a schedule from ascending step boundaries and
// len(boundaries)+1 values.
func NewPiecewiseConstant(boundaries []int64, values []float64) (*PiecewiseConstant, error) {
	if len(values) != len(boundaries)+1 {
		return nil, fmt.Errorf("optim: schedule needs %d values for %d boundaries, got %d",
			len(boundaries)+1, len(boundaries), len(values))
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return nil, fmt.Errorf("optim: schedule boundaries must be ascending, got %v", boundaries)
		}
	}
	return &PiecewiseConstant{
		boundaries: append([]int64(nil), boundaries...),
		values:     append([]float64(nil), values...),
	}, nil
}

// At returns the learning rate for a global step. A step equal to a
// boundary already takes the post-boundary value: values[i] applies to the
// half-open interval [boundaries[i-1], boundaries[i]).
func (p *PiecewiseConstant) At(step int64) float64 {
	for i, b := range p.boundaries {
		if step < b {
			return p.values[i]
		}
	}
	return p.values[len(p.values)-1]
}

// CIFARSchedule returns the reference schedule for this pipeline: a base
// rate of 0.1 scaled linearly with the batch size (anchored at 128), decayed
// by 10x at epochs 100, 150 and 200 of the given logical epoch size.
func CIFARSchedule(batchSize, epochSize int) (*PiecewiseConstant, error) {
	if batchSize <= 0 || epochSize <= 0 {
		return nil, fmt.Errorf("optim: batch size and epoch size must be positive, got %d and %d",
			batchSize, epochSize)
	}
	base := 0.1 * float64(batchSize) / 128.0
	batchesPerEpoch := float64(epochSize) / float64(batchSize)

	boundaries := make([]int64, 0, 3)
	for _, epoch := range []float64{100, 150, 200} {
		boundaries = append(boundaries, int64(batchesPerEpoch*epoch))
	}
	values := []float64{base, base * 0.1, base * 0.01, base * 0.001}
	return NewPiecewiseConstant(boundaries, values)
}
