// Package predict serves inference against a loaded checkpoint. The model
// and encoding are loaded once and shared across calls; reloads swap an
// immutable handle, so in-flight predictions keep the model they started
// with and never observe a half-applied reload.
package predict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/label"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/model"
)

var (
	ErrInvalidImage = errors.New("invalid image")
	ErrNoCheckpoint = errors.New("no checkpoint loaded")
)

// Result is the prediction for one image. Err is set (and the other fields
// empty) when that image could not be processed; one bad image never aborts
// the rest of a batch.
type Result struct {
	Label         string             `json:"label,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Err           error              `json:"-"`
}

// handle is one immutable (classifier, encoding) pair.
type handle struct {
	clf *model.Classifier
	enc label.Encoding
}

// Predictor is the serving singleton: constructed at startup, reloaded on
// checkpoint change, closed at shutdown.
type Predictor struct {
	imgSize  int
	backbone model.FeatureExtractor
	current  atomic.Pointer[handle]
	reloadMu sync.Mutex // serializes reloads, not predictions
	log      *zap.Logger
}

// NewPredictor loads the checkpoint at path and binds it to the given
// backbone. The backbone is shared across reloads; only the head and
// encoding come from the checkpoint.
func NewPredictor(path string, backbone model.FeatureExtractor, imgSize int, log *zap.Logger) (*Predictor, error) {
	p := NewIdlePredictor(backbone, imgSize, log)
	if err := p.Reload(path); err != nil {
		return nil, err
	}
	return p, nil
}

// NewIdlePredictor builds a predictor with no checkpoint loaded. Predictions
// fail with ErrNoCheckpoint until the first successful Reload brings it
// online.
func NewIdlePredictor(backbone model.FeatureExtractor, imgSize int, log *zap.Logger) *Predictor {
	return &Predictor{
		imgSize:  imgSize,
		backbone: backbone,
		log:      log,
	}
}

// Ready reports whether a checkpoint is currently loaded.
func (p *Predictor) Ready() bool {
	return p.current.Load() != nil
}

// Reload loads the checkpoint at path and atomically swaps it in. Concurrent
// predictions continue against the handle they already hold.
func (p *Predictor) Reload(path string) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	cp, err := model.Load(path)
	if err != nil {
		return fmt.Errorf("reload checkpoint: %w", err)
	}
	clf, err := model.Restore(cp, p.backbone)
	if err != nil {
		return fmt.Errorf("reload checkpoint: %w", err)
	}

	p.current.Store(&handle{clf: clf, enc: cp.Encoding})
	p.log.Info("checkpoint loaded",
		zap.String("path", path),
		zap.Int("epoch", cp.Run.Epoch),
		zap.Float64("best_metric", cp.Run.BestMetric),
		zap.Int("classes", cp.Encoding.NumClasses()))
	return nil
}

// Classes returns the class names of the currently loaded encoding, or nil
// when no checkpoint is loaded.
func (p *Predictor) Classes() []string {
	h := p.current.Load()
	if h == nil {
		return nil
	}
	return h.enc.Classes()
}

// PredictOne classifies a single image given as raw encoded bytes.
func (p *Predictor) PredictOne(ctx context.Context, image []byte) Result {
	return p.Predict(ctx, [][]byte{image})[0]
}

// Predict classifies a batch of images. Results come back in input order;
// undecodable images yield a Result with Err set to ErrInvalidImage while
// the remaining images are classified normally.
func (p *Predictor) Predict(ctx context.Context, images [][]byte) []Result {
	h := p.current.Load()
	results := make([]Result, len(images))
	if h == nil {
		for i := range results {
			results[i] = Result{Err: ErrNoCheckpoint}
		}
		return results
	}

	// Decode what we can, tracking which inputs survive.
	var tensors []float32
	var valid []int
	for i, data := range images {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Err: err}
			continue
		}
		tensor, err := dataset.DecodeBytes(data, p.imgSize)
		if err != nil {
			p.log.Warn("undecodable image in batch", zap.Int("index", i), zap.Error(err))
			results[i] = Result{Err: fmt.Errorf("%w: %v", ErrInvalidImage, err)}
			continue
		}
		tensors = append(tensors, tensor...)
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return results
	}

	probs, err := h.clf.Probabilities(tensors, len(valid))
	if err != nil {
		for _, i := range valid {
			results[i] = Result{Err: fmt.Errorf("inference: %w", err)}
		}
		return results
	}

	for row, i := range valid {
		results[i] = p.decodeResult(h.enc, probs[row])
	}
	return results
}

func (p *Predictor) decodeResult(enc label.Encoding, probs []float64) Result {
	best := 0
	byName := make(map[string]float64, len(probs))
	for c, prob := range probs {
		name, err := enc.Decode(c)
		if err != nil {
			return Result{Err: err}
		}
		byName[name] = prob
		if prob > probs[best] {
			best = c
		}
	}
	name, err := enc.Decode(best)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Label: name, Probabilities: byName}
}

func (p *Predictor) Close() error {
	return p.backbone.Close()
}
