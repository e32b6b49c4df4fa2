package model

import (
	"errors"
	"math"
	"math/rand"
)

// Head is the classification layer trained on top of the frozen backbone: a
// dense layer over the embedding followed by softmax, fitted with
// cross-entropy loss and SGD with momentum.
type Head struct {
	weights [][]float64 // [numClasses][featureDim]
	bias    []float64
	vW      [][]float64 // momentum buffers
	vB      []float64

	featureDim int
	numClasses int
}

// HeadState is the serializable form of a Head, embedded in checkpoints.
type HeadState struct {
	FeatureDim int         `json:"feature_dim"`
	NumClasses int         `json:"num_classes"`
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	VelocityW  [][]float64 `json:"velocity_w"`
	VelocityB  []float64   `json:"velocity_b"`
}

// NewHead builds a freshly initialized head. Weights are drawn from a seeded
// normal scaled by 1/sqrt(featureDim), so the same seed reproduces the same
// starting point.
func NewHead(featureDim, numClasses int, seed int64) *Head {
	rng := rand.New(rand.NewSource(seed))
	scale := 1.0 / math.Sqrt(float64(featureDim))

	weights := make([][]float64, numClasses)
	vW := make([][]float64, numClasses)
	for c := range weights {
		weights[c] = make([]float64, featureDim)
		vW[c] = make([]float64, featureDim)
		for j := range weights[c] {
			weights[c][j] = rng.NormFloat64() * scale
		}
	}
	return &Head{
		weights:    weights,
		bias:       make([]float64, numClasses),
		vW:         vW,
		vB:         make([]float64, numClasses),
		featureDim: featureDim,
		numClasses: numClasses,
	}
}

func (h *Head) NumClasses() int { return h.numClasses }
func (h *Head) FeatureDim() int { return h.featureDim }

func (h *Head) logits(features []float64) []float64 {
	out := make([]float64, h.numClasses)
	for c := 0; c < h.numClasses; c++ {
		sum := h.bias[c]
		row := h.weights[c]
		for j, x := range features {
			sum += row[j] * x
		}
		out[c] = sum
	}
	return out
}

// Probabilities returns the softmax distribution over classes for one
// embedding. The max-logit shift keeps the exponentials finite.
func (h *Head) Probabilities(features []float64) ([]float64, error) {
	if len(features) != h.featureDim {
		return nil, errors.New("feature dimension mismatch")
	}
	logits := h.logits(features)
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	sum := 0.0
	probs := make([]float64, len(logits))
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}

// TrainBatch runs one gradient step over a batch of embeddings and returns
// the mean cross-entropy loss. Gradients are averaged over the batch before
// the momentum update.
func (h *Head) TrainBatch(features [][]float64, labels []int, lr, momentum float64) (float64, error) {
	if len(features) == 0 {
		return 0, errors.New("empty batch")
	}
	if len(features) != len(labels) {
		return 0, errors.New("features and labels size mismatch")
	}

	gradW := make([][]float64, h.numClasses)
	for c := range gradW {
		gradW[c] = make([]float64, h.featureDim)
	}
	gradB := make([]float64, h.numClasses)

	totalLoss := 0.0
	for i, x := range features {
		probs, err := h.Probabilities(x)
		if err != nil {
			return 0, err
		}
		lbl := labels[i]
		if lbl < 0 || lbl >= h.numClasses {
			return 0, errors.New("label index out of range")
		}
		totalLoss += -math.Log(math.Max(probs[lbl], 1e-12))

		// dL/dlogit_c = p_c - 1{c == label}
		for c := 0; c < h.numClasses; c++ {
			delta := probs[c]
			if c == lbl {
				delta -= 1.0
			}
			gradB[c] += delta
			row := gradW[c]
			for j, v := range x {
				row[j] += delta * v
			}
		}
	}

	n := float64(len(features))
	for c := 0; c < h.numClasses; c++ {
		h.vB[c] = momentum*h.vB[c] - lr*gradB[c]/n
		h.bias[c] += h.vB[c]
		for j := range h.weights[c] {
			h.vW[c][j] = momentum*h.vW[c][j] - lr*gradW[c][j]/n
			h.weights[c][j] += h.vW[c][j]
		}
	}
	return totalLoss / n, nil
}

// State snapshots the head for checkpointing.
func (h *Head) State() HeadState {
	return HeadState{
		FeatureDim: h.featureDim,
		NumClasses: h.numClasses,
		Weights:    copyMatrix(h.weights),
		Bias:       append([]float64(nil), h.bias...),
		VelocityW:  copyMatrix(h.vW),
		VelocityB:  append([]float64(nil), h.vB...),
	}
}

// HeadFromState rebuilds a head from a checkpoint snapshot.
func HeadFromState(s HeadState) (*Head, error) {
	if s.NumClasses <= 0 || s.FeatureDim <= 0 {
		return nil, errors.New("invalid head dimensions")
	}
	if len(s.Weights) != s.NumClasses || len(s.Bias) != s.NumClasses {
		return nil, errors.New("head weight shape mismatch")
	}
	for _, row := range s.Weights {
		if len(row) != s.FeatureDim {
			return nil, errors.New("head weight shape mismatch")
		}
	}
	vW := s.VelocityW
	if vW == nil {
		vW = make([][]float64, s.NumClasses)
		for c := range vW {
			vW[c] = make([]float64, s.FeatureDim)
		}
	}
	vB := s.VelocityB
	if vB == nil {
		vB = make([]float64, s.NumClasses)
	}
	return &Head{
		weights:    copyMatrix(s.Weights),
		bias:       append([]float64(nil), s.Bias...),
		vW:         copyMatrix(vW),
		vB:         append([]float64(nil), vB...),
		featureDim: s.FeatureDim,
		numClasses: s.NumClasses,
	}, nil
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
