package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// SoftmaxCrossEntropy computes the mean softmax cross-entropy between
// logits [N,K] and one-hot labels [N,K], and the gradient of that mean with
// respect to the logits, (softmax - labels)/N.
//
// Rows are shifted by their max before exponentiation (log-sum-exp trick),
// so the loss is stable for arbitrarily large logits.
func SoftmaxCrossEntropy(logits, labels *tensor.Dense) (float64, *tensor.Dense) {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("loss: expected 2D logits [N,K], got %dD", len(shape)))
	}
	if !shape.Eq(labels.Shape()) {
		panic(fmt.Sprintf("loss: logits shape %v != labels shape %v", shape, labels.Shape()))
	}
	n, k := shape[0], shape[1]

	z := logits.Data().([]float64)
	y := labels.Data().([]float64)
	grad := make([]float64, len(z))

	var total float64
	probs := make([]float64, k)
	for row := 0; row < n; row++ {
		zRow := z[row*k : (row+1)*k]
		yRow := y[row*k : (row+1)*k]

		max := floats.Max(zRow)
		var sum float64
		for j, v := range zRow {
			probs[j] = math.Exp(v - max)
			sum += probs[j]
		}
		logSum := math.Log(sum) + max

		gRow := grad[row*k : (row+1)*k]
		for j := range probs {
			p := probs[j] / sum
			gRow[j] = (p - yRow[j]) / float64(n)
			total += yRow[j] * (logSum - zRow[j])
		}
	}

	loss := total / float64(n)
	return loss, tensor.New(tensor.WithShape(n, k), tensor.WithBacking(grad))
}

// Softmax returns row-wise class probabilities for logits [N,K].
func Softmax(logits *tensor.Dense) *tensor.Dense {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("softmax: expected 2D logits [N,K], got %dD", len(shape)))
	}
	n, k := shape[0], shape[1]

	z := logits.Data().([]float64)
	out := make([]float64, len(z))
	for row := 0; row < n; row++ {
		zRow := z[row*k : (row+1)*k]
		oRow := out[row*k : (row+1)*k]
		max := floats.Max(zRow)
		for j, v := range zRow {
			oRow[j] = math.Exp(v - max)
		}
		sum := floats.Sum(oRow)
		floats.Scale(1/sum, oRow)
	}
	return tensor.New(tensor.WithShape(n, k), tensor.WithBacking(out))
}

// Argmax returns the index of the largest entry in each row of a [N,K]
// tensor.
func Argmax(t *tensor.Dense) []int {
	shape := t.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("argmax: expected 2D input [N,K], got %dD", len(shape)))
	}
	n, k := shape[0], shape[1]

	data := t.Data().([]float64)
	out := make([]int, n)
	for row := 0; row < n; row++ {
		out[row] = floats.MaxIdx(data[row*k : (row+1)*k])
	}
	return out
}

// L2NormSquared returns sum(p^2) over a parameter tensor, the weight-decay
// contribution of one parameter.
func L2NormSquared(p *Parameter) float64 {
	data := p.Value.Data().([]float64)
	return floats.Dot(data, data)
}
