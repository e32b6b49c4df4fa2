// Package config holds the run configuration for the lesion classification
// pipeline. A Config is built once (from a YAML file plus defaults), validated,
// and passed down unchanged; nothing in the pipeline mutates it.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"
)

var (
	ErrMissingDatasetRoot = errors.New("dataset root is required")
	ErrInvalidRatios      = errors.New("split ratios must be positive and sum to 1.0")
	ErrInvalidBatchSize   = errors.New("batch size must be positive")
)

type SplitRatios struct {
	Train float64 `yaml:"train"`
	Val   float64 `yaml:"val"`
	Test  float64 `yaml:"test"`
}

type DatasetConfig struct {
	Root        string      `yaml:"root"`
	MetadataCSV string      `yaml:"metadata_csv"`
	Ratios      SplitRatios `yaml:"split_ratios"`
	Seed        int64       `yaml:"seed"`
	BatchSize   int         `yaml:"batch_size"`
	ImageSize   int         `yaml:"image_size"`
	Workers     int         `yaml:"workers"`
	CacheSize   int         `yaml:"cache_size"`
}

type ModelConfig struct {
	BackbonePath string `yaml:"backbone_path"`
	Pretrained   bool   `yaml:"pretrained"`
}

type TrainConfig struct {
	Epochs         int     `yaml:"epochs"`
	LearningRate   float64 `yaml:"learning_rate"`
	Momentum       float64 `yaml:"momentum"`
	Patience       int     `yaml:"patience"`
	MinDelta       float64 `yaml:"min_delta"`
	CheckpointPath string  `yaml:"checkpoint_path"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Model    ModelConfig    `yaml:"model"`
	Train    TrainConfig    `yaml:"train"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the configuration used when a field is absent from the
// YAML file. The dataset defaults match how the HAM10000 model was trained:
// 224x224 inputs, batches of 32, seed 42, 70/15/15 split.
func Default() Config {
	var c Config
	c.Dataset.Ratios = SplitRatios{Train: 0.7, Val: 0.15, Test: 0.15}
	c.Dataset.Seed = 42
	c.Dataset.BatchSize = 32
	c.Dataset.ImageSize = 224
	c.Dataset.Workers = 4
	c.Dataset.CacheSize = 4096
	c.Model.Pretrained = true
	c.Train.Epochs = 30
	c.Train.LearningRate = 0.01
	c.Train.Momentum = 0.9
	c.Train.Patience = 5
	c.Train.MinDelta = 1e-4
	c.Train.CheckpointPath = "./models/lesion.ckpt"
	c.HTTP.Port = 8080
	c.Database.Path = "./data/runs.db"
	c.Log.Level = "info"
	return c
}

// Load reads a YAML config file on top of the defaults and validates the
// result.
func Load(path string) (Config, error) {
	c := Default()
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Dataset.Root == "" {
		return ErrMissingDatasetRoot
	}
	r := c.Dataset.Ratios
	if r.Train <= 0 || r.Val <= 0 || r.Test <= 0 {
		return ErrInvalidRatios
	}
	if math.Abs(r.Train+r.Val+r.Test-1.0) > 1e-9 {
		return ErrInvalidRatios
	}
	if c.Dataset.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.Dataset.ImageSize <= 0 {
		return errors.New("image size must be positive")
	}
	if c.Train.Epochs <= 0 {
		return errors.New("epochs must be positive")
	}
	if c.Train.LearningRate <= 0 {
		return errors.New("learning rate must be positive")
	}
	if c.Train.Patience < 0 {
		return errors.New("patience must not be negative")
	}
	if c.Train.MinDelta < 0 {
		return errors.New("min delta must not be negative")
	}
	if c.Train.CheckpointPath == "" {
		return errors.New("checkpoint path is required")
	}
	return nil
}
