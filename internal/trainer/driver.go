package trainer

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/born-ml/cifar/internal/checkpoint"
	"github.com/born-ml/cifar/internal/config"
	"github.com/born-ml/cifar/internal/dataset"
	"github.com/born-ml/cifar/internal/resnet"
)

// EvalResult maps metric names to scalar values for one evaluation pass:
// accuracy, loss and global_step.
type EvalResult map[string]float64

// Driver alternates bounded training runs and full evaluation passes. It is
// single-threaded and synchronous: one training run completes before the
// evaluation pass starts. Model state persists across the boundary; that
// persistence is what makes the alternation meaningful.
type Driver struct {
	cfg   *config.Config
	model *Model
	rng   *rand.Rand
}

// New builds the network and model function from cfg and restores the
// latest checkpoint if one exists. A nil rng selects a time-seeded source.
func New(cfg *config.Config, rng *rand.Rand) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // shuffling, not crypto
	}

	net, err := resnet.Build(cfg.ResNetSize, dataset.NumClasses)
	if err != nil {
		return nil, err
	}
	model, err := NewModel(net, cfg.BatchSize, cfg.EpochSize)
	if err != nil {
		return nil, err
	}

	st, err := checkpoint.Load(cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if err := model.LoadStateDict(st); err != nil {
			return nil, fmt.Errorf("trainer: restore checkpoint: %w", err)
		}
		log.Printf("restored checkpoint global_step=%d from %s", st.Step, cfg.CheckpointDir)
	}

	return &Driver{cfg: cfg, model: model, rng: rng}, nil
}

// Model returns the driver's model function.
func (d *Driver) Model() *Model {
	return d.model
}

// Run executes train_steps/steps_per_eval cycles of [bounded training run,
// checkpoint, full evaluation pass] and returns the evaluation results in
// order.
func (d *Driver) Run() ([]EvalResult, error) {
	cycles := d.cfg.TrainSteps / d.cfg.StepsPerEval
	results := make([]EvalResult, 0, cycles)

	for cycle := 0; cycle < cycles; cycle++ {
		if err := d.train(); err != nil {
			return results, err
		}
		if err := checkpoint.Save(d.cfg.CheckpointDir, d.model.StateDict()); err != nil {
			return results, err
		}

		result, err := d.evaluate()
		if err != nil {
			return results, err
		}
		results = append(results, result)
		log.Printf("eval accuracy=%.4f loss=%.4f global_step=%d",
			result["accuracy"], result["loss"], int64(result["global_step"]))
	}

	return results, nil
}

// train runs the training pipeline for exactly steps_per_eval steps,
// logging the named training signals at the configured interval. The
// running accuracy is reset first, so the logged train_accuracy reflects
// only this run, not the preceding evaluation pass.
func (d *Driver) train() error {
	files, err := dataset.Filenames(d.cfg.DataRoot, dataset.Train)
	if err != nil {
		return err
	}

	d.model.ResetMetrics()
	stream, err := dataset.NewTrainStream(dataset.TrainConfig{
		Files:      files,
		BatchSize:  d.cfg.BatchSize,
		BufferSize: dataset.ShuffleBufferSize(d.cfg.EpochSize, d.cfg.BatchSize),
		Rng:        d.rng,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for step := 1; step <= d.cfg.StepsPerEval; step++ {
		batch, err := stream.Next()
		if err != nil {
			return err
		}
		spec, err := d.model.Apply(batch, dataset.Train)
		if err != nil {
			return err
		}
		if step%d.cfg.LogEvery == 0 || step == d.cfg.StepsPerEval {
			log.Printf("step=%d learning_rate=%g cross_entropy=%.4f train_accuracy=%.4f",
				d.model.GlobalStep(), spec.LearningRate, spec.CrossEntropy, spec.Accuracy)
		}
	}
	return nil
}

// evaluate runs one full ordered pass over the evaluation split and
// produces its EvalResult.
func (d *Driver) evaluate() (EvalResult, error) {
	files, err := dataset.Filenames(d.cfg.DataRoot, dataset.Eval)
	if err != nil {
		return nil, err
	}
	stream, err := dataset.NewEvalStream(files, d.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	d.model.ResetMetrics()

	var (
		lossSum  float64
		samples  int
		accuracy float64
	)
	for {
		batch, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		spec, err := d.model.Apply(batch, dataset.Eval)
		if err != nil {
			return nil, err
		}
		lossSum += spec.Loss * float64(batch.Size)
		samples += batch.Size
		accuracy = spec.Accuracy
	}
	if samples == 0 {
		return nil, fmt.Errorf("trainer: evaluation split is empty")
	}

	return EvalResult{
		"accuracy":    accuracy,
		"loss":        lossSum / float64(samples),
		"global_step": float64(d.model.GlobalStep()),
	}, nil
}
