package dataset

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Sample is one decoded (image, label) pair. The image is [Height, Width,
// Depth] float64, the label a one-hot vector of length NumClasses. Samples
// are produced fresh per record and consumed once by the pipeline.
type Sample struct {
	Image *tensor.Dense
	Label *tensor.Dense
}

// DecodeRecord parses one fixed-length binary record.
//
// The first byte is the class label; the remaining ImageBytes are the pixel
// payload in channel-major [Depth, Height, Width] order, which is reordered
// here to pixel-major [Height, Width, Depth].
//
// Returns ErrBadRecord if raw is not exactly RecordBytes long.
func DecodeRecord(raw []byte) (*Sample, error) {
	if len(raw) != RecordBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadRecord, len(raw), RecordBytes)
	}

	// One-hot encode the label byte. An out-of-range byte yields the zero
	// vector, mirroring the reference implementation's one_hot semantics.
	label := int(raw[0])
	onehot := make([]float64, NumClasses)
	if label < NumClasses {
		onehot[label] = 1.0
	}

	payload := raw[LabelBytes:]
	img := make([]float64, ImageBytes)
	// [c, y, x] -> [y, x, c]
	for c := 0; c < Depth; c++ {
		for y := 0; y < Height; y++ {
			for x := 0; x < Width; x++ {
				img[(y*Width+x)*Depth+c] = float64(payload[c*Height*Width+y*Width+x])
			}
		}
	}

	return &Sample{
		Image: tensor.New(tensor.WithShape(Height, Width, Depth), tensor.WithBacking(img)),
		Label: tensor.New(tensor.WithShape(NumClasses), tensor.WithBacking(onehot)),
	}, nil
}
