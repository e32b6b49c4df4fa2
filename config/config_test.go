package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "dataset:\n  root: /data/processed\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dataset.Root != "/data/processed" {
		t.Fatalf("unexpected root: %q", cfg.Dataset.Root)
	}
	if cfg.Dataset.Seed != 42 || cfg.Dataset.BatchSize != 32 || cfg.Dataset.ImageSize != 224 {
		t.Fatalf("defaults not applied: %+v", cfg.Dataset)
	}
	if cfg.Train.Patience != 5 {
		t.Fatalf("default patience not applied: %d", cfg.Train.Patience)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("default port not applied: %d", cfg.HTTP.Port)
	}
}

func TestLoadOverridesHTTPPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "dataset:\n  root: /data/processed\nhttp:\n  port: 9090\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.HTTP.Port)
	}
}

func TestValidateMissingRoot(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingDatasetRoot) {
		t.Fatalf("expected ErrMissingDatasetRoot, got %v", err)
	}
}

func TestValidateRatios(t *testing.T) {
	cases := []SplitRatios{
		{Train: 0.8, Val: 0.1, Test: 0.05}, // sums to 0.95
		{Train: 1.0, Val: 0.0, Test: 0.0},
		{Train: 0.9, Val: 0.2, Test: -0.1},
	}
	for _, ratios := range cases {
		cfg := Default()
		cfg.Dataset.Root = "/data"
		cfg.Dataset.Ratios = ratios
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidRatios) {
			t.Fatalf("expected ErrInvalidRatios for %+v, got %v", ratios, err)
		}
	}
}

func TestValidateBatchSize(t *testing.T) {
	cfg := Default()
	cfg.Dataset.Root = "/data"
	cfg.Dataset.BatchSize = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidBatchSize) {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
}
