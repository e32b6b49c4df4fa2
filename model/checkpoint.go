package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/label"
)

var (
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	ErrEncodingMismatch  = errors.New("checkpoint encoding mismatch")
)

const checkpointVersion = 1

// RunState is the training progress embedded in a checkpoint: enough to know
// where a run stopped and to resume early-stopping bookkeeping.
type RunState struct {
	Epoch      int     `json:"epoch"`
	BestMetric float64 `json:"best_metric"`
	BadEpochs  int     `json:"bad_epochs"`
	State      string  `json:"state"`
}

type OptimizerState struct {
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
}

// Checkpoint is one self-contained snapshot: head weights, the label
// encoding they were trained against, and run metadata. Weights and encoding
// travel together; a checkpoint is never valid with a different encoding.
type Checkpoint struct {
	Version   int            `json:"version"`
	SavedAt   time.Time      `json:"saved_at"`
	Head      HeadState      `json:"head"`
	Optimizer OptimizerState `json:"optimizer"`
	Encoding  label.Encoding `json:"encoding"`
	Run       RunState       `json:"run"`
}

// Save writes a checkpoint atomically: the JSON document goes to a temp file
// in the target directory, is synced, then renamed over the canonical path.
// A crash mid-write leaves any previous checkpoint untouched.
func Save(path string, head *Head, opt OptimizerState, enc label.Encoding, run RunState) error {
	cp := Checkpoint{
		Version:   checkpointVersion,
		SavedAt:   time.Now().UTC(),
		Head:      head.State(),
		Optimizer: opt,
		Encoding:  enc,
		Run:       run,
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Load reads and validates a checkpoint. Structural problems surface as
// ErrCorruptCheckpoint; an encoding whose class count disagrees with the
// head surfaces as ErrEncodingMismatch.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptCheckpoint, cp.Version)
	}
	if cp.Head.NumClasses <= 0 || cp.Head.FeatureDim <= 0 || len(cp.Head.Weights) == 0 {
		return nil, fmt.Errorf("%w: missing head weights", ErrCorruptCheckpoint)
	}
	if cp.Encoding.NumClasses() == 0 {
		return nil, fmt.Errorf("%w: missing label encoding", ErrCorruptCheckpoint)
	}
	if cp.Encoding.NumClasses() != cp.Head.NumClasses {
		return nil, fmt.Errorf("%w: head has %d classes, encoding has %d",
			ErrEncodingMismatch, cp.Head.NumClasses, cp.Encoding.NumClasses())
	}
	return &cp, nil
}

// Restore rebuilds a classifier from a loaded checkpoint, attaching the
// given backbone. The backbone's embedding width must match what the head
// was trained on.
func Restore(cp *Checkpoint, backbone FeatureExtractor) (*Classifier, error) {
	if backbone.Dim() != cp.Head.FeatureDim {
		return nil, fmt.Errorf("%w: backbone emits %d features, head expects %d",
			ErrEncodingMismatch, backbone.Dim(), cp.Head.FeatureDim)
	}
	head, err := HeadFromState(cp.Head)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	return &Classifier{Backbone: backbone, Head: head}, nil
}
