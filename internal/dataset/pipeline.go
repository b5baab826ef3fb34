package dataset

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"

	"gorgonia.org/tensor"
)

// Batch is an ordered stack of decoded samples: Images is [Size, Height,
// Width, Depth], Labels is [Size, NumClasses]. The last batch of a finite
// pass may be shorter than the requested batch size.
type Batch struct {
	Images *tensor.Dense
	Labels *tensor.Dense
	Size   int
}

// stackBatch materializes samples as stacked arrays along a new leading axis.
func stackBatch(samples []*Sample) *Batch {
	n := len(samples)
	images := make([]float64, n*ImageBytes)
	labels := make([]float64, n*NumClasses)
	for i, s := range samples {
		copy(images[i*ImageBytes:(i+1)*ImageBytes], s.Image.Data().([]float64))
		copy(labels[i*NumClasses:(i+1)*NumClasses], s.Label.Data().([]float64))
	}
	return &Batch{
		Images: tensor.New(tensor.WithShape(n, Height, Width, Depth), tensor.WithBacking(images)),
		Labels: tensor.New(tensor.WithShape(n, NumClasses), tensor.WithBacking(labels)),
		Size:   n,
	}
}

// readRecords streams the fixed-length records of one file to fn. A trailing
// fragment shorter than RecordBytes fails the whole file with ErrBadRecord;
// skipping it silently would change the epoch size.
func readRecords(path string, fn func(raw []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*RecordBytes)
	buf := make([]byte, RecordBytes)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			return nil
		}
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: trailing fragment in %s", ErrBadRecord, path)
		}
		if err != nil {
			return fmt.Errorf("dataset: read %s: %w", path, err)
		}
		if err := fn(buf); err != nil {
			return err
		}
	}
}

// TrainStream is the infinite training pipeline: the shard files are
// re-read forever, each record is decoded, augmented and standardized, and
// samples are drawn through a bounded shuffle reservoir. The stream never
// exhausts; callers bound consumption externally.
//
// Decoding is prefetched on a background goroutine; augmentation,
// standardization and shuffling happen on the consuming goroutine, so each
// sample's transform chain is never interleaved with another sample's.
type TrainStream struct {
	batchSize int
	rng       *rand.Rand

	records <-chan []byte
	errc    <-chan error
	stop    chan struct{}

	reservoir []*Sample
	capacity  int
}

// TrainConfig configures a TrainStream.
type TrainConfig struct {
	// Files are the shard paths, cycled in order forever.
	Files []string
	// BatchSize is the number of samples per yielded batch.
	BatchSize int
	// BufferSize is the shuffle reservoir capacity, normally
	// ShuffleBufferSize(epochSize, batchSize).
	BufferSize int
	// Rng drives cropping, flipping and shuffling. Tests inject a seeded
	// source; no reproducibility is guaranteed otherwise.
	Rng *rand.Rand
}

// NewTrainStream starts the background reader and returns the stream. The
// reservoir is filled lazily on the first Next call.
func NewTrainStream(cfg TrainConfig) (*TrainStream, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("dataset: train stream needs at least one file")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.Rng == nil {
		return nil, fmt.Errorf("dataset: train stream needs a random source")
	}

	records := make(chan []byte, 2*cfg.BatchSize)
	errc := make(chan error, 1)
	stop := make(chan struct{})

	go func() {
		defer close(records)
		for {
			for _, path := range cfg.Files {
				err := readRecords(path, func(raw []byte) error {
					rec := make([]byte, RecordBytes)
					copy(rec, raw)
					select {
					case records <- rec:
						return nil
					case <-stop:
						return errStopped
					}
				})
				if err == errStopped {
					return
				}
				if err != nil {
					errc <- err
					return
				}
			}
		}
	}()

	return &TrainStream{
		batchSize: cfg.BatchSize,
		rng:       cfg.Rng,
		records:   records,
		errc:      errc,
		stop:      stop,
		capacity:  cfg.BufferSize,
	}, nil
}

var errStopped = fmt.Errorf("dataset: stream closed")

// next pulls one raw record, decodes it and runs the training transforms.
func (s *TrainStream) next() (*Sample, error) {
	raw, ok := <-s.records
	if !ok {
		// Reader exited; surface its error if one is pending.
		select {
		case err := <-s.errc:
			return nil, err
		default:
			return nil, errStopped
		}
	}
	sample, err := DecodeRecord(raw)
	if err != nil {
		return nil, err
	}
	sample.Image = Augment(sample.Image, s.rng)
	Standardize(sample.Image)
	return sample, nil
}

// Next returns the next shuffled training batch. The reservoir is filled to
// capacity before the first sample is drawn; afterwards each drawn slot is
// replaced with the next incoming sample.
func (s *TrainStream) Next() (*Batch, error) {
	for len(s.reservoir) < s.capacity {
		sample, err := s.next()
		if err != nil {
			return nil, err
		}
		s.reservoir = append(s.reservoir, sample)
	}

	out := make([]*Sample, 0, s.batchSize)
	for len(out) < s.batchSize {
		j := s.rng.Intn(len(s.reservoir))
		out = append(out, s.reservoir[j])
		sample, err := s.next()
		if err != nil {
			return nil, err
		}
		s.reservoir[j] = sample
	}
	return stackBatch(out), nil
}

// Close stops the background reader. The stream must not be used afterwards.
func (s *TrainStream) Close() {
	close(s.stop)
}

// EvalStream is a single finite, ordered pass over the evaluation split: no
// shuffling, no repetition, no augmentation. Rebuilding the stream from the
// same file yields identical batches. It is not restartable; build a new one
// for another pass.
type EvalStream struct {
	files     []string
	batchSize int

	fileIdx int
	reader  *bufio.Reader
	file    *os.File
	done    bool
}

// NewEvalStream returns a stream over files yielding batches of up to
// batchSize samples, in record order.
func NewEvalStream(files []string, batchSize int) (*EvalStream, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("dataset: eval stream needs at least one file")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", batchSize)
	}
	return &EvalStream{files: files, batchSize: batchSize}, nil
}

// nextRecord returns the next raw record across the file sequence, or io.EOF
// once every file is exhausted.
func (s *EvalStream) nextRecord(buf []byte) error {
	for {
		if s.reader == nil {
			if s.fileIdx >= len(s.files) {
				return io.EOF
			}
			f, err := os.Open(s.files[s.fileIdx])
			if err != nil {
				return fmt.Errorf("dataset: open %s: %w", s.files[s.fileIdx], err)
			}
			s.file = f
			s.reader = bufio.NewReaderSize(f, 64*RecordBytes)
		}

		_, err := io.ReadFull(s.reader, buf)
		if err == nil {
			return nil
		}
		path := s.files[s.fileIdx]
		s.file.Close()
		s.file, s.reader = nil, nil
		s.fileIdx++
		if err == io.EOF {
			continue
		}
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: trailing fragment in %s", ErrBadRecord, path)
		}
		return fmt.Errorf("dataset: read %s: %w", path, err)
	}
}

// Next returns the next ordered batch, or io.EOF when the pass is complete.
// The final batch may hold fewer than batchSize samples.
func (s *EvalStream) Next() (*Batch, error) {
	if s.done {
		return nil, io.EOF
	}

	samples := make([]*Sample, 0, s.batchSize)
	buf := make([]byte, RecordBytes)
	for len(samples) < s.batchSize {
		err := s.nextRecord(buf)
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		sample, err := DecodeRecord(buf)
		if err != nil {
			return nil, err
		}
		Standardize(sample.Image)
		samples = append(samples, sample)
	}

	if len(samples) == 0 {
		return nil, io.EOF
	}
	return stackBatch(samples), nil
}

// Close releases the currently open file and ends the pass. Needed when a
// pass is abandoned before io.EOF; safe to call on an exhausted stream.
func (s *EvalStream) Close() {
	s.done = true
	if s.file != nil {
		s.file.Close()
		s.file, s.reader = nil, nil
	}
}
