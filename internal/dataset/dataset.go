// Package dataset implements the CIFAR-10 input pipeline: enumerating the
// binary record files, decoding fixed-length records into image/label
// tensors, training-time augmentation, per-image standardization, and
// batching.
//
// The package exposes two stream types with deliberately different
// lifetimes:
//   - TrainStream: infinite, shuffled via a bounded reservoir buffer
//   - EvalStream: a single finite, ordered pass
//
// Both produce stacked Batch tensors ready for the network.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CIFAR-10 record geometry. Every record in a split file is exactly one
// label byte followed by the channel-major pixel payload.
const (
	Height     = 32
	Width      = 32
	Depth      = 3
	NumClasses = 10

	LabelBytes  = 1
	ImageBytes  = Height * Width * Depth
	RecordBytes = LabelBytes + ImageBytes

	// TrainShards is the number of numbered training batch files.
	TrainShards = 5

	// TrainSize and EvalSize are the logical sample counts per split.
	TrainSize = 10000 * TrainShards
	EvalSize  = 10000
)

// dataSubdir is where the extraction step unpacks the binary batches
// beneath the data root.
const dataSubdir = "cifar-10-batches-bin"

// Sentinel errors for the two failure classes of the input pipeline.
var (
	// ErrMissingData indicates the expected data directory does not exist,
	// meaning the external download/extraction step was never run.
	ErrMissingData = errors.New("dataset: data directory not found")

	// ErrBadRecord indicates a record whose byte length does not match the
	// fixed record size. Files are concatenations of fixed-size records, so
	// any other length is corruption.
	ErrBadRecord = errors.New("dataset: record size mismatch")
)

// Mode selects the pipeline and model behavior. It is a closed set; every
// switch over Mode handles all three values explicitly.
type Mode int

const (
	// Train enables augmentation, shuffling, infinite repetition and
	// parameter updates.
	Train Mode = iota
	// Eval runs a single ordered pass with loss and metrics.
	Eval
	// Predict runs the forward pass only; label data may be absent.
	Predict
)

// String returns the mode name for logs and errors.
func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Eval:
		return "eval"
	case Predict:
		return "predict"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Filenames returns the record files for a mode in their fixed order:
// training shards 1..TrainShards, or the single evaluation file.
//
// Returns ErrMissingData if the extracted data directory is absent. The
// pipeline never fetches data itself; acquisition is an external step.
func Filenames(root string, mode Mode) ([]string, error) {
	dir := filepath.Join(root, dataSubdir)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (run the download/extract step first)", ErrMissingData, dir)
		}
		return nil, fmt.Errorf("dataset: stat %s: %w", dir, err)
	}

	switch mode {
	case Train:
		names := make([]string, 0, TrainShards)
		for i := 1; i <= TrainShards; i++ {
			names = append(names, filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i)))
		}
		return names, nil
	case Eval:
		return []string{filepath.Join(dir, "test_batch.bin")}, nil
	default:
		return nil, fmt.Errorf("dataset: no input files for mode %s", mode)
	}
}

// ShuffleBufferSize returns the reservoir capacity used by TrainStream:
// large enough to approximate full-epoch shuffling without materializing the
// whole epoch in memory.
func ShuffleBufferSize(epochSize, batchSize int) int {
	n := int(0.4 * float64(epochSize))
	if n < 1 {
		n = 1
	}
	return n + 3*batchSize
}
