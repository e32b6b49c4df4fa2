package model

import (
	"math"
	"testing"
)

func TestHeadProbabilitiesSumToOne(t *testing.T) {
	head := NewHead(4, 3, 42)
	probs, err := head.Probabilities([]float64{0.5, -1.2, 3.0, 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0.0
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probability out of range: %v", probs)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("probabilities sum to %v", sum)
	}
}

func TestHeadTrainingReducesLoss(t *testing.T) {
	// Two linearly separable clusters.
	features := [][]float64{
		{1, 0}, {0.9, 0.1}, {1.1, -0.1},
		{0, 1}, {0.1, 0.9}, {-0.1, 1.1},
	}
	labels := []int{0, 0, 0, 1, 1, 1}

	head := NewHead(2, 2, 7)
	first, err := head.TrainBatch(features, labels, 0.2, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var last float64
	for i := 0; i < 50; i++ {
		last, err = head.TrainBatch(features, labels, 0.2, 0.9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if last >= first {
		t.Fatalf("loss did not decrease: first %v, last %v", first, last)
	}

	probs, err := head.Probabilities([]float64{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probs[0] <= probs[1] {
		t.Fatalf("expected class 0 to dominate, got %v", probs)
	}
}

func TestHeadSeedDeterminism(t *testing.T) {
	a := NewHead(8, 3, 42).State()
	b := NewHead(8, 3, 42).State()
	for c := range a.Weights {
		for j := range a.Weights[c] {
			if a.Weights[c][j] != b.Weights[c][j] {
				t.Fatal("same seed produced different initial weights")
			}
		}
	}
}

func TestHeadStateRoundTrip(t *testing.T) {
	head := NewHead(3, 2, 9)
	if _, err := head.TrainBatch([][]float64{{1, 2, 3}}, []int{1}, 0.1, 0.9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored, err := HeadFromState(head.State())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := []float64{0.3, -0.7, 1.1}
	want, _ := head.Probabilities(in)
	got, _ := restored.Probabilities(in)
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("probability %d differs after round trip: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestPixelBackboneShape(t *testing.T) {
	b := NewPixelBackbone(16)
	inputs := make([]float32, 2*3*16*16)
	rows, err := b.Extract(inputs, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 || len(rows[0]) != b.Dim() {
		t.Fatalf("unexpected embedding shape: %d x %d", len(rows), len(rows[0]))
	}

	if _, err := b.Extract(inputs, 3); err == nil {
		t.Fatal("expected error for mismatched batch size")
	}
}
