package dataset

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// augmentPad is the zero padding added to each side of the image before the
// random crop, giving a random translation of up to +-augmentPad pixels.
const augmentPad = 4

// Augment applies the training-only randomized transforms, in order:
//
//  1. Zero-pad by augmentPad pixels on each side (32x32 -> 40x40), then crop
//     a uniformly random 32x32 window.
//  2. Flip left-right with probability 0.5.
//
// The input image must be [Height, Width, Depth]; the output always has the
// same shape. Evaluation and prediction skip this stage entirely.
func Augment(img *tensor.Dense, rng *rand.Rand) *tensor.Dense {
	src := img.Data().([]float64)

	const padded = Height + 2*augmentPad
	offY := rng.Intn(padded - Height + 1)
	offX := rng.Intn(padded - Width + 1)
	flip := rng.Intn(2) == 1

	out := make([]float64, ImageBytes)
	for y := 0; y < Height; y++ {
		// Source row in the (virtual) padded image.
		sy := y + offY - augmentPad
		if sy < 0 || sy >= Height {
			continue // zero padding
		}
		for x := 0; x < Width; x++ {
			sx := x + offX - augmentPad
			if sx < 0 || sx >= Width {
				continue
			}
			dx := x
			if flip {
				dx = Width - 1 - x
			}
			for c := 0; c < Depth; c++ {
				out[(y*Width+dx)*Depth+c] = src[(sy*Width+sx)*Depth+c]
			}
		}
	}

	return tensor.New(tensor.WithShape(Height, Width, Depth), tensor.WithBacking(out))
}

// Standardize scales an image to zero mean and unit variance in place:
// subtract the image's own mean, divide by its adjusted standard deviation
// max(stddev, 1/sqrt(num_pixels)). The floor keeps the divisor away from
// zero on near-constant images.
//
// Applied identically in every mode, after augmentation.
func Standardize(img *tensor.Dense) {
	data := img.Data().([]float64)

	mean := stat.Mean(data, nil)
	std := stat.PopStdDev(data, nil)
	floor := 1.0 / math.Sqrt(float64(len(data)))
	if std < floor {
		std = floor
	}

	for i := range data {
		data[i] = (data[i] - mean) / std
	}
}
