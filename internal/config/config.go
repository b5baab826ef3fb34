// Package config defines the explicit configuration surface of the
// training pipeline. A Config is constructed once at startup and passed
// into the pipeline, model and driver constructors; no component reads
// ambient process-wide state.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/cifar/internal/dataset"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	// DataRoot contains the extracted cifar-10-batches-bin directory.
	DataRoot string `yaml:"data_root"`
	// CheckpointDir is where model state is persisted between cycles.
	CheckpointDir string `yaml:"checkpoint_dir"`
	// ResNetSize is the depth parameter of the network, 6n+2.
	ResNetSize int `yaml:"resnet_size"`
	// TrainSteps is the total number of batches to train.
	TrainSteps int `yaml:"train_steps"`
	// StepsPerEval is the number of train steps between evaluation passes.
	StepsPerEval int `yaml:"steps_per_eval"`
	// BatchSize is the number of images per batch.
	BatchSize int `yaml:"batch_size"`
	// LogEvery is the training-metrics reporting interval, in steps.
	LogEvery int `yaml:"log_every"`
	// EpochSize is the logical training-set size. It drives the
	// shuffle-buffer capacity and the schedule's epoch boundaries and
	// defaults to the CIFAR-10 training split.
	EpochSize int `yaml:"epoch_size"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		DataRoot:      "/tmp/cifar10_data",
		CheckpointDir: "/tmp/cifar10_model",
		ResNetSize:    32,
		TrainSteps:    100000,
		StepsPerEval:  4000,
		BatchSize:     128,
		LogEvery:      100,
		EpochSize:     dataset.TrainSize,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	if c.DataRoot == "" {
		return errors.New("config: data_root must be set")
	}
	if c.CheckpointDir == "" {
		return errors.New("config: checkpoint_dir must be set")
	}
	if c.ResNetSize < 8 || (c.ResNetSize-2)%6 != 0 {
		return fmt.Errorf("config: resnet_size must be 6n+2 with n >= 1, got %d", c.ResNetSize)
	}
	if c.TrainSteps <= 0 {
		return fmt.Errorf("config: train_steps must be > 0, got %d", c.TrainSteps)
	}
	if c.StepsPerEval <= 0 || c.StepsPerEval > c.TrainSteps {
		return fmt.Errorf("config: steps_per_eval must be in [1, train_steps], got %d", c.StepsPerEval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("config: log_every must be > 0, got %d", c.LogEvery)
	}
	if c.EpochSize <= 0 {
		return fmt.Errorf("config: epoch_size must be > 0, got %d", c.EpochSize)
	}
	return nil
}
