package trainer

import (
	"gorgonia.org/tensor"

	"github.com/born-ml/cifar/internal/nn"
)

// accuracyMetric is a running average of argmax(labels) == predicted class.
// It accumulates across calls and is reset at the start of each bounded
// training run and each evaluation pass, so every reported accuracy covers
// exactly one run or pass.
type accuracyMetric struct {
	correct int
	total   int
}

// update folds one batch into the running average.
func (a *accuracyMetric) update(labels *tensor.Dense, classes []int) {
	truth := nn.Argmax(labels)
	for i, c := range classes {
		if truth[i] == c {
			a.correct++
		}
	}
	a.total += len(classes)
}

// rate returns the running accuracy, or zero before any update.
func (a *accuracyMetric) rate() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

// reset clears the accumulator.
func (a *accuracyMetric) reset() {
	a.correct, a.total = 0, 0
}
