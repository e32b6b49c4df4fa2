// Package evaluate runs forward-only passes over a split and derives metrics
// from the accumulated confusion matrix.
package evaluate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/model"
)

var ErrEmptySplit = errors.New("split contains no samples")

type ClassMetrics struct {
	Class     string  `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Support   int     `json:"support"`
}

type Metrics struct {
	Accuracy  float64        `json:"accuracy"`
	Samples   int            `json:"samples"`
	Confusion [][]int        `json:"confusion"` // [trueClass][predictedClass]
	PerClass  []ClassMetrics `json:"per_class"`
}

// Evaluate runs one pass over the loader's batches without touching model
// parameters. Iteration is unshuffled, so results are deterministic for a
// fixed model and split.
func Evaluate(ctx context.Context, clf *model.Classifier, loader *dataset.Loader, classNames []string) (Metrics, error) {
	if loader.NumSamples() == 0 {
		return Metrics{}, ErrEmptySplit
	}

	// The cancel releases the batch producer if the pass aborts before the
	// channel drains.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	numClasses := clf.Head.NumClasses()
	confusion := make([][]int, numClasses)
	for i := range confusion {
		confusion[i] = make([]int, numClasses)
	}

	seen := 0
	for batch := range loader.Batches(ctx, nil) {
		probs, err := clf.Probabilities(batch.Inputs, batch.Size)
		if err != nil {
			return Metrics{}, fmt.Errorf("forward pass: %w", err)
		}
		for i, p := range probs {
			pred := argmax(p)
			confusion[batch.Labels[i]][pred]++
			seen++
		}
	}
	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}
	if seen == 0 {
		return Metrics{}, ErrEmptySplit
	}

	return FromConfusion(confusion, classNames), nil
}

// FromConfusion derives accuracy and per-class precision/recall from a
// confusion matrix. classNames may be nil when only the numbers matter.
func FromConfusion(confusion [][]int, classNames []string) Metrics {
	n := len(confusion)
	total, correct := 0, 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			total += confusion[i][j]
		}
		correct += confusion[i][i]
	}

	perClass := make([]ClassMetrics, n)
	for c := 0; c < n; c++ {
		truePos := confusion[c][c]
		support := 0   // row sum: actual members of class c
		predicted := 0 // column sum: predictions of class c
		for j := 0; j < n; j++ {
			support += confusion[c][j]
			predicted += confusion[j][c]
		}
		m := ClassMetrics{Support: support}
		if classNames != nil && c < len(classNames) {
			m.Class = classNames[c]
		}
		if predicted > 0 {
			m.Precision = float64(truePos) / float64(predicted)
		}
		if support > 0 {
			m.Recall = float64(truePos) / float64(support)
		}
		perClass[c] = m
	}

	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}
	return Metrics{
		Accuracy:  accuracy,
		Samples:   total,
		Confusion: confusion,
		PerClass:  perClass,
	}
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
