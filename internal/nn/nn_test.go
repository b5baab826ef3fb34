package nn

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

func TestParameter(t *testing.T) {
	p := NewParameter("w", tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6})))

	if p.Name != "w" {
		t.Errorf("Name = %q, want w", p.Name)
	}
	if got := p.NumElements(); got != 6 {
		t.Errorf("NumElements() = %d, want 6", got)
	}
	if !p.Grad.Shape().Eq(p.Value.Shape()) {
		t.Errorf("Grad shape %v != Value shape %v", p.Grad.Shape(), p.Value.Shape())
	}

	grad := p.Grad.Data().([]float64)
	for i := range grad {
		grad[i] = float64(i + 1)
	}
	p.ZeroGrad()
	for i, v := range p.Grad.Data().([]float64) {
		if v != 0 {
			t.Errorf("Grad[%d] = %v after ZeroGrad, want 0", i, v)
		}
	}
}

func TestHeNormal(t *testing.T) {
	const fanIn = 64
	w := HeNormal(fanIn, 3, 3, fanIn, 128)
	data := w.Data().([]float64)

	if len(data) != 3*3*fanIn*128 {
		t.Fatalf("len = %d, want %d", len(data), 3*3*fanIn*128)
	}

	// Sampled standard deviation should be near sqrt(2/fanIn).
	want := math.Sqrt(2.0 / fanIn)
	got := stat.PopStdDev(data, nil)
	if math.Abs(got-want)/want > 0.05 {
		t.Errorf("stddev = %v, want ~%v", got, want)
	}
	if mean := stat.Mean(data, nil); math.Abs(mean) > 0.01 {
		t.Errorf("mean = %v, want ~0", mean)
	}
}

func TestOnesZeros(t *testing.T) {
	ones := Ones(4).Data().([]float64)
	for i, v := range ones {
		if v != 1 {
			t.Errorf("Ones[%d] = %v", i, v)
		}
	}
	zeros := Zeros(2, 3).Data().([]float64)
	if len(zeros) != 6 {
		t.Fatalf("Zeros len = %d, want 6", len(zeros))
	}
	for i, v := range zeros {
		if v != 0 {
			t.Errorf("Zeros[%d] = %v", i, v)
		}
	}
}
