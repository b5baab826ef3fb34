package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestBatchNorm_TrainingNormalizes(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	bn := NewBatchNorm("bn", 3)
	x := randTensor(rng, 4, 2, 2, 3)
	// Shift one channel far off-center so normalization is observable.
	data := x.Data().([]float64)
	for i := 0; i < len(data); i += 3 {
		data[i] += 50
	}

	out := bn.Forward(x, true).Data().([]float64)

	for c := 0; c < 3; c++ {
		var channel []float64
		for i := c; i < len(out); i += 3 {
			channel = append(channel, out[i])
		}
		assert.InDelta(t, 0, stat.Mean(channel, nil), 1e-9, "channel %d mean", c)
		assert.InDelta(t, 1, stat.PopVariance(channel, nil), 1e-6, "channel %d variance", c)
	}
}

func TestBatchNorm_CommitStats(t *testing.T) {
	rng := rand.New(rand.NewSource(32))
	bn := NewBatchNorm("bn", 2)

	require.False(t, bn.HasPendingStats())

	x := randTensor(rng, 8, 2, 2, 2)
	bn.Forward(x, true)
	require.True(t, bn.HasPendingStats())

	// Running statistics stay at their init values until committed.
	mean := bn.RunningMean().Data().([]float64)
	variance := bn.RunningVar().Data().([]float64)
	assert.Equal(t, []float64{0, 0}, mean)
	assert.Equal(t, []float64{1, 1}, variance)

	bn.CommitStats()
	require.False(t, bn.HasPendingStats())

	mean = bn.RunningMean().Data().([]float64)
	variance = bn.RunningVar().Data().([]float64)
	for c := 0; c < 2; c++ {
		var channel []float64
		data := x.Data().([]float64)
		for i := c; i < len(data); i += 2 {
			channel = append(channel, data[i])
		}
		batchMean := stat.Mean(channel, nil)
		batchVar := stat.PopVariance(channel, nil)
		assert.InDelta(t, (1-BatchNormMomentum)*batchMean, mean[c], 1e-12)
		assert.InDelta(t, BatchNormMomentum+(1-BatchNormMomentum)*batchVar, variance[c], 1e-12)
	}
}

func TestBatchNorm_InferenceUsesRunningStats(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	bn := NewBatchNorm("bn", 2)
	copy(bn.RunningMean().Data().([]float64), []float64{1, -1})
	copy(bn.RunningVar().Data().([]float64), []float64{4, 9})

	x := randTensor(rng, 2, 2, 2, 2)
	data := x.Data().([]float64)
	out := bn.Forward(x, false).Data().([]float64)

	means := []float64{1, -1}
	stds := []float64{math.Sqrt(4 + BatchNormEpsilon), math.Sqrt(9 + BatchNormEpsilon)}
	for i, v := range data {
		c := i % 2
		assert.InDelta(t, (v-means[c])/stds[c], out[i], 1e-12)
	}

	// Inference never records batch statistics.
	assert.False(t, bn.HasPendingStats())
}
