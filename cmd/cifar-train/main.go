// Command cifar-train trains and periodically evaluates the CIFAR-10
// residual-network classifier on the binary record files.
package main

import (
	"flag"
	"log"

	"github.com/born-ml/cifar/internal/config"
	"github.com/born-ml/cifar/internal/trainer"
)

func main() {
	var (
		configPath   = flag.String("config", "", "optional YAML config file")
		dataDir      = flag.String("data_dir", "", "path to the CIFAR-10 data directory")
		modelDir     = flag.String("model_dir", "", "directory where checkpoints are stored")
		resnetSize   = flag.Int("resnet_size", 0, "size of the ResNet model (6n+2)")
		trainSteps   = flag.Int("train_steps", 0, "number of batches to train")
		stepsPerEval = flag.Int("steps_per_eval", 0, "number of batches between evaluations")
		batchSize    = flag.Int("batch_size", 0, "number of images per batch")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataRoot = *dataDir
	}
	if *modelDir != "" {
		cfg.CheckpointDir = *modelDir
	}
	if *resnetSize > 0 {
		cfg.ResNetSize = *resnetSize
	}
	if *trainSteps > 0 {
		cfg.TrainSteps = *trainSteps
	}
	if *stepsPerEval > 0 {
		cfg.StepsPerEval = *stepsPerEval
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}

	driver, err := trainer.New(cfg, nil)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := driver.Run(); err != nil {
		log.Fatal(err)
	}
}
