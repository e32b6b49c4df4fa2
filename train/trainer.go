// Package train drives the fine-tuning loop: epochs of head updates over the
// train split, validation after each epoch, and checkpointing on
// improvement, with early stopping once validation stalls.
package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/evaluate"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/label"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/model"
)

// State names for the orchestrator's epoch machine.
const (
	StateInit         = "init"
	StateTraining     = "training"
	StateValidating   = "validating"
	StateEarlyStopped = "early_stopped"
	StateCompleted    = "completed"
)

// EpochUpdate is published after each epoch's validation pass.
type EpochUpdate struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValMetric float64 `json:"val_metric"`
	Best      float64 `json:"best_metric"`
	Improved  bool    `json:"improved"`
	State     string  `json:"state"`
}

// Result summarizes a finished run.
type Result struct {
	State      string  `json:"state"`
	Epochs     int     `json:"epochs"`
	BestMetric float64 `json:"best_metric"`
	Checkpoint string  `json:"checkpoint"`
}

// Trainer owns the mutable run state. The model's parameters are only ever
// mutated here; validation holds a read-only view.
type Trainer struct {
	cfg config.Config
	clf *model.Classifier
	enc label.Encoding

	trainLoader *dataset.Loader
	valLoader   *dataset.Loader
	log         *zap.Logger

	// OnEpoch, when set, receives an update after every validation pass.
	OnEpoch func(EpochUpdate)

	// validate is swappable in tests to script metric sequences.
	validate func(ctx context.Context) (evaluate.Metrics, error)
}

func New(cfg config.Config, clf *model.Classifier, enc label.Encoding, trainLoader, valLoader *dataset.Loader, log *zap.Logger) *Trainer {
	t := &Trainer{
		cfg:         cfg,
		clf:         clf,
		enc:         enc,
		trainLoader: trainLoader,
		valLoader:   valLoader,
		log:         log,
	}
	t.validate = func(ctx context.Context) (evaluate.Metrics, error) {
		return evaluate.Evaluate(ctx, t.clf, t.valLoader, t.enc.Classes())
	}
	return t
}

// Run executes the training loop until the configured epoch count is reached or
// validation fails to improve for the configured patience. A canceled
// context takes effect at the next epoch boundary. A checkpoint write
// failure is fatal and aborts the run.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if t.trainLoader.NumSamples() == 0 {
		return nil, fmt.Errorf("training split: %w", evaluate.ErrEmptySplit)
	}

	tc := t.cfg.Train
	run := model.RunState{State: StateInit, BestMetric: -1}
	rng := rand.New(rand.NewSource(t.cfg.Dataset.Seed))

	t.log.Info("training started",
		zap.Int("epochs", tc.Epochs),
		zap.Int("train_samples", t.trainLoader.NumSamples()),
		zap.Int("val_samples", t.valLoader.NumSamples()),
		zap.Int("classes", t.enc.NumClasses()))

	for epoch := 1; epoch <= tc.Epochs; epoch++ {
		// Stop requests apply between epochs, never mid-epoch.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		run.State = StateTraining
		run.Epoch = epoch
		start := time.Now()
		loss, err := t.trainEpoch(ctx, rng)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		run.State = StateValidating
		metrics, err := t.validate(ctx)
		if err != nil {
			return nil, fmt.Errorf("epoch %d validation: %w", epoch, err)
		}

		improved := metrics.Accuracy > run.BestMetric+tc.MinDelta
		if improved {
			run.BestMetric = metrics.Accuracy
			run.BadEpochs = 0
			if err := t.saveCheckpoint(run); err != nil {
				return nil, fmt.Errorf("epoch %d: %w", epoch, err)
			}
		} else {
			run.BadEpochs++
		}

		t.log.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Float64("train_loss", loss),
			zap.Float64("val_accuracy", metrics.Accuracy),
			zap.Float64("best", run.BestMetric),
			zap.Bool("improved", improved),
			zap.Int("bad_epochs", run.BadEpochs),
			zap.Duration("took", time.Since(start)))

		// Patience 0 disables early stopping.
		state := StateTraining
		if tc.Patience > 0 && run.BadEpochs >= tc.Patience {
			state = StateEarlyStopped
		} else if epoch == tc.Epochs {
			state = StateCompleted
		}
		if t.OnEpoch != nil {
			t.OnEpoch(EpochUpdate{
				Epoch:     epoch,
				TrainLoss: loss,
				ValMetric: metrics.Accuracy,
				Best:      run.BestMetric,
				Improved:  improved,
				State:     state,
			})
		}

		if state == StateEarlyStopped {
			t.log.Info("early stopping", zap.Int("epoch", epoch), zap.Int("patience", tc.Patience))
			return &Result{
				State:      StateEarlyStopped,
				Epochs:     epoch,
				BestMetric: run.BestMetric,
				Checkpoint: tc.CheckpointPath,
			}, nil
		}
	}

	return &Result{
		State:      StateCompleted,
		Epochs:     tc.Epochs,
		BestMetric: run.BestMetric,
		Checkpoint: tc.CheckpointPath,
	}, nil
}

// trainEpoch draws every training batch once in a freshly shuffled order and
// runs one gradient step per batch.
func (t *Trainer) trainEpoch(ctx context.Context, rng *rand.Rand) (float64, error) {
	// The cancel releases the batch producer if the loop exits before the
	// channel drains.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	totalLoss := 0.0
	batches := 0
	for batch := range t.trainLoader.Batches(ctx, rng) {
		features, err := t.clf.Backbone.Extract(batch.Inputs, batch.Size)
		if err != nil {
			return 0, fmt.Errorf("feature extraction: %w", err)
		}
		loss, err := t.clf.Head.TrainBatch(features, batch.Labels, t.cfg.Train.LearningRate, t.cfg.Train.Momentum)
		if err != nil {
			return 0, fmt.Errorf("gradient step: %w", err)
		}
		totalLoss += loss
		batches++
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if batches == 0 {
		return 0, fmt.Errorf("no usable batches in training split")
	}
	return totalLoss / float64(batches), nil
}

func (t *Trainer) saveCheckpoint(run model.RunState) error {
	opt := model.OptimizerState{
		LearningRate: t.cfg.Train.LearningRate,
		Momentum:     t.cfg.Train.Momentum,
	}
	if err := model.Save(t.cfg.Train.CheckpointPath, t.clf.Head, opt, t.enc, run); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	t.log.Info("checkpoint saved",
		zap.String("path", t.cfg.Train.CheckpointPath),
		zap.Int("epoch", run.Epoch),
		zap.Float64("best_metric", run.BestMetric))
	return nil
}
