// Package dataset enumerates labeled lesion images from a directory tree and
// serves them as batches of normalized tensors. The expected layout is one
// subdirectory per class (the layout cmd/prepare produces from the raw
// HAM10000 download), optionally cross-checked against the metadata CSV.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
)

var (
	ErrEmptyDataset = errors.New("dataset contains no labeled images")
	ErrUnknownSplit = errors.New("unknown split name")
)

// Sample is one labeled image. Tensors are decoded lazily by the Loader;
// a Sample itself only carries the path and class.
type Sample struct {
	Path  string
	Class string
}

type SplitName string

const (
	SplitTrain SplitName = "train"
	SplitVal   SplitName = "val"
	SplitTest  SplitName = "test"
)

func ParseSplit(s string) (SplitName, error) {
	switch SplitName(strings.ToLower(s)) {
	case SplitTrain:
		return SplitTrain, nil
	case SplitVal:
		return SplitVal, nil
	case SplitTest:
		return SplitTest, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSplit, s)
}

// Dataset holds the full sample inventory and its three splits.
type Dataset struct {
	Classes []string
	splits  map[SplitName][]Sample
}

func (d *Dataset) Split(name SplitName) []Sample {
	return d.splits[name]
}

func (d *Dataset) Len() int {
	n := 0
	for _, s := range d.splits {
		n += len(s)
	}
	return n
}

// Scan walks the class subdirectories under root and collects every image
// file. The returned slice is sorted by path so downstream partitioning sees
// a stable order regardless of filesystem iteration order.
func Scan(root string) ([]Sample, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("dataset root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset root %s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset root: %w", err)
	}

	var samples []Sample
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		class := entry.Name()
		classDir := filepath.Join(root, class)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, fmt.Errorf("read class dir %s: %w", classDir, err)
		}
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			samples = append(samples, Sample{
				Path:  filepath.Join(classDir, f.Name()),
				Class: class,
			})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, root)
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Path < samples[j].Path })
	return samples, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Partition splits samples into train/val/test. It is a pure function of the
// sample list, seed, and ratios: the sorted list is shuffled with a rand.Rand
// seeded from the config and cut at the ratio boundaries, so two processes
// given the same inputs agree on split membership exactly.
func Partition(samples []Sample, seed int64, ratios config.SplitRatios) map[SplitName][]Sample {
	shuffled := make([]Sample, len(samples))
	copy(shuffled, samples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := len(shuffled)
	trainEnd := int(float64(n) * ratios.Train)
	valEnd := trainEnd + int(float64(n)*ratios.Val)
	if valEnd > n {
		valEnd = n
	}

	return map[SplitName][]Sample{
		SplitTrain: shuffled[:trainEnd],
		SplitVal:   shuffled[trainEnd:valEnd],
		SplitTest:  shuffled[valEnd:],
	}
}

// Open scans the configured root, optionally filters against the metadata
// CSV, and partitions the result. Class names are collected from the full
// sample set (every split draws from the same class inventory).
func Open(cfg config.DatasetConfig) (*Dataset, error) {
	samples, err := Scan(cfg.Root)
	if err != nil {
		return nil, err
	}

	if cfg.MetadataCSV != "" {
		meta, err := ReadMetadata(cfg.MetadataCSV)
		if err != nil {
			return nil, err
		}
		samples, err = filterByMetadata(samples, meta)
		if err != nil {
			return nil, err
		}
	}

	classSet := make(map[string]bool)
	for _, s := range samples {
		classSet[s.Class] = true
	}
	classes := make([]string, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	return &Dataset{
		Classes: classes,
		splits:  Partition(samples, cfg.Seed, cfg.Ratios),
	}, nil
}
