// Package model builds the lesion classifier (frozen ResNet-152 backbone plus
// a trainable softmax head) and owns checkpoint persistence.
package model

import (
	"fmt"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
)

// Classifier pairs a feature extractor with its classification head. During
// training only the head's parameters change; the backbone stays frozen.
type Classifier struct {
	Backbone FeatureExtractor
	Head     *Head
}

// Create builds a fresh classifier with a head sized to numClasses. With
// Pretrained set, the ImageNet ResNet-152 export is loaded from
// BackbonePath; otherwise the pixel-statistics fallback is used.
func Create(cfg config.ModelConfig, imgSize, numClasses int, seed int64) (*Classifier, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}

	var backbone FeatureExtractor
	if cfg.Pretrained {
		if cfg.BackbonePath == "" {
			return nil, fmt.Errorf("pretrained backbone requested but no backbone path configured")
		}
		b, err := NewONNXBackbone(cfg.BackbonePath, imgSize)
		if err != nil {
			return nil, err
		}
		backbone = b
	} else {
		backbone = NewPixelBackbone(imgSize)
	}

	return &Classifier{
		Backbone: backbone,
		Head:     NewHead(backbone.Dim(), numClasses, seed),
	}, nil
}

// Probabilities runs the full forward pass for a batch of preprocessed
// images and returns one probability row per image.
func (c *Classifier) Probabilities(inputs []float32, n int) ([][]float64, error) {
	features, err := c.Backbone.Extract(inputs, n)
	if err != nil {
		return nil, err
	}
	probs := make([][]float64, n)
	for i, row := range features {
		p, err := c.Head.Probabilities(row)
		if err != nil {
			return nil, err
		}
		probs[i] = p
	}
	return probs, nil
}

func (c *Classifier) Close() error {
	return c.Backbone.Close()
}
