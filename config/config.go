// Package config loads the experiment configuration shared by the
// preprocessing pipeline and the dataset/loader stack. The YAML schema
// mirrors the parameter files shipped under this directory
// (parameters.yml for KITTI, nuscenes_parameters.yml for nuScenes), so
// the same file drives both raw-data conversion and training-time
// loading.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default parameter files, relative to the working directory.
const (
	DefaultKITTIConfigPath    = "config/parameters.yml"
	DefaultNuScenesConfigPath = "config/nuscenes_parameters.yml"
)

// Config is the root of the parameter tree.
type Config struct {
	DataConfig DataConfig  `yaml:"DATA_CONFIG"`
	Model      ModelConfig `yaml:"MODEL"`
	Train      TrainConfig `yaml:"TRAIN"`
}

// DataConfig describes where processed range images live and how they
// are split and loaded.
type DataConfig struct {
	DatasetName       string `yaml:"DATASET_NAME"`
	RawDatasetPath    string `yaml:"RAW_DATASET_PATH"`
	ProcessedPath     string `yaml:"PROCESSED_PATH"`
	GenerateFiles     bool   `yaml:"GENERATE_FILES"`
	ComputeMeanAndStd bool   `yaml:"COMPUTE_MEAN_AND_STD"`
	Height            int    `yaml:"HEIGHT"`
	Width             int    `yaml:"WIDTH"`

	Dataloader DataloaderConfig `yaml:"DATALOADER"`
	Split      SplitConfig      `yaml:"SPLIT"`
}

// DataloaderConfig controls the batching loaders.
type DataloaderConfig struct {
	Shuffle   bool `yaml:"SHUFFLE"`
	NumWorker int  `yaml:"NUM_WORKER"`
}

// SplitConfig assigns inclusive sequence-number ranges to the three
// dataset splits.
type SplitConfig struct {
	Train []SplitBound `yaml:"TRAIN"`
	Val   []SplitBound `yaml:"VAL"`
	Test  []SplitBound `yaml:"TEST"`
}

// SplitBound is one entry of a split's bound list. The upstream
// parameter files express each split as a list of single-key maps
// ([{START: 0}, {END: 9}]), so both fields are optional pointers and
// the effective bounds are resolved by SplitBounds.
type SplitBound struct {
	Start *int `yaml:"START"`
	End   *int `yaml:"END"`
}

// ModelConfig carries the window sizes the dataset needs; the model
// itself lives outside this repository.
type ModelConfig struct {
	NPastSteps   int `yaml:"N_PAST_STEPS"`
	NFutureSteps int `yaml:"N_FUTURE_STEPS"`
}

// TrainConfig carries the loader-relevant training parameters.
type TrainConfig struct {
	BatchSize int `yaml:"BATCH_SIZE"`
}

// Load reads and validates a YAML parameter file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields the dataset layer depends on. Failures
// here are configuration mistakes, not recoverable conditions.
func (c *Config) Validate() error {
	if c.DataConfig.ProcessedPath == "" {
		return fmt.Errorf("DATA_CONFIG.PROCESSED_PATH is required")
	}
	if c.DataConfig.Height <= 0 || c.DataConfig.Width <= 0 {
		return fmt.Errorf("DATA_CONFIG.HEIGHT and WIDTH must be positive, got %dx%d",
			c.DataConfig.Height, c.DataConfig.Width)
	}
	if c.Model.NPastSteps <= 0 || c.Model.NFutureSteps <= 0 {
		return fmt.Errorf("MODEL.N_PAST_STEPS and N_FUTURE_STEPS must be positive, got %d/%d",
			c.Model.NPastSteps, c.Model.NFutureSteps)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("TRAIN.BATCH_SIZE must be positive, got %d", c.Train.BatchSize)
	}
	if c.DataConfig.Dataloader.NumWorker < 0 {
		return fmt.Errorf("DATA_CONFIG.DATALOADER.NUM_WORKER must not be negative, got %d",
			c.DataConfig.Dataloader.NumWorker)
	}
	for _, split := range []string{"train", "val", "test"} {
		if _, _, err := c.DataConfig.SplitBounds(split); err != nil {
			return err
		}
	}
	return nil
}

// SplitBounds resolves the inclusive [start, end] sequence range of a
// split. Any split name outside train/val/test is rejected.
func (d *DataConfig) SplitBounds(split string) (start, end int, err error) {
	var bounds []SplitBound
	switch strings.ToLower(split) {
	case "train":
		bounds = d.Split.Train
	case "val":
		bounds = d.Split.Val
	case "test":
		bounds = d.Split.Test
	default:
		return 0, 0, fmt.Errorf("split must be train/val/test, got %q", split)
	}

	var s, e *int
	for _, b := range bounds {
		if b.Start != nil {
			s = b.Start
		}
		if b.End != nil {
			e = b.End
		}
	}
	if s == nil || e == nil {
		return 0, 0, fmt.Errorf("split %q is missing START or END in DATA_CONFIG.SPLIT", split)
	}
	if *e < *s {
		return 0, 0, fmt.Errorf("split %q has END %d before START %d", split, *e, *s)
	}
	return *s, *e, nil
}
