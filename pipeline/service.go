// Package pipeline wires the dataset, model, training, evaluation, and
// prediction components into the three operations exposed at the service
// boundary: train, evaluate, predict.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/evaluate"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/label"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/model"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/predict"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/runstore"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/train"
)

var ErrTrainingInProgress = errors.New("a training run is already in progress")

// Service owns the long-lived pieces: the run store and the serving
// predictor. Models used for training and evaluation are scoped to the
// operation; the predictor is the only cross-request model handle.
type Service struct {
	cfg       config.Config
	store     *runstore.Store
	predictor *predict.Predictor // never nil; unready until a checkpoint loads
	log       *zap.Logger
	training  atomic.Bool
}

// New builds the service. A missing checkpoint is not an error at startup;
// the predictor starts idle and comes online when the first training run
// publishes one.
func New(cfg config.Config, store *runstore.Store, log *zap.Logger) (*Service, error) {
	s := &Service{cfg: cfg, store: store, log: log}

	backbone, err := newBackbone(cfg.Model, cfg.Dataset.ImageSize)
	if err != nil {
		return nil, err
	}
	p, err := predict.NewPredictor(cfg.Train.CheckpointPath, backbone, cfg.Dataset.ImageSize, log)
	if err != nil {
		log.Warn("predictor idle until a checkpoint is published",
			zap.String("path", cfg.Train.CheckpointPath), zap.Error(err))
		p = predict.NewIdlePredictor(backbone, cfg.Dataset.ImageSize, log)
	}
	s.predictor = p
	return s, nil
}

func newBackbone(cfg config.ModelConfig, imgSize int) (model.FeatureExtractor, error) {
	if cfg.Pretrained {
		return model.NewONNXBackbone(cfg.BackbonePath, imgSize)
	}
	return model.NewPixelBackbone(imgSize), nil
}

// Predictor returns the serving predictor. It is never nil, but stays
// unready until a checkpoint has been loaded.
func (s *Service) Predictor() *predict.Predictor {
	return s.predictor
}

// Train runs one full training run synchronously. Only one run may be
// active at a time; concurrent calls fail with ErrTrainingInProgress. Every
// epoch is recorded in the run store and forwarded to onEpoch when set.
func (s *Service) Train(ctx context.Context, onEpoch func(train.EpochUpdate)) (*train.Result, error) {
	if !s.training.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer s.training.Store(false)
	return s.runTrain(ctx, onEpoch)
}

// StartTrain reserves the single training slot and launches the run in the
// background, reporting the outcome through onDone. It fails fast with
// ErrTrainingInProgress when a run is already active.
func (s *Service) StartTrain(ctx context.Context, onEpoch func(train.EpochUpdate), onDone func(*train.Result, error)) error {
	if !s.training.CompareAndSwap(false, true) {
		return ErrTrainingInProgress
	}
	go func() {
		defer s.training.Store(false)
		result, err := s.runTrain(ctx, onEpoch)
		if onDone != nil {
			onDone(result, err)
		}
	}()
	return nil
}

func (s *Service) runTrain(ctx context.Context, onEpoch func(train.EpochUpdate)) (*train.Result, error) {
	ds, err := dataset.Open(s.cfg.Dataset)
	if err != nil {
		return nil, err
	}
	enc := label.Fit(ds.Classes)

	clf, err := model.Create(s.cfg.Model, s.cfg.Dataset.ImageSize, enc.NumClasses(), s.cfg.Dataset.Seed)
	if err != nil {
		return nil, err
	}
	defer clf.Close()

	trainLoader, err := dataset.NewLoader(ds.Split(dataset.SplitTrain), enc, s.cfg.Dataset, s.log)
	if err != nil {
		return nil, err
	}
	valLoader, err := dataset.NewLoader(ds.Split(dataset.SplitVal), enc, s.cfg.Dataset, s.log)
	if err != nil {
		return nil, err
	}

	runID, err := s.store.CreateRun(s.cfg.Train.CheckpointPath)
	if err != nil {
		return nil, err
	}

	trainer := train.New(s.cfg, clf, enc, trainLoader, valLoader, s.log)
	trainer.OnEpoch = func(u train.EpochUpdate) {
		if err := s.store.RecordEpoch(runID, u.Epoch, u.TrainLoss, u.ValMetric, u.Improved); err != nil {
			s.log.Warn("failed to record epoch", zap.Int64("run_id", runID), zap.Error(err))
		}
		if onEpoch != nil {
			onEpoch(u)
		}
	}

	result, err := trainer.Run(ctx)
	if err != nil {
		if ferr := s.store.FinishRun(runID, "failed", 0, 0); ferr != nil {
			s.log.Warn("failed to finalize run record", zap.Int64("run_id", runID), zap.Error(ferr))
		}
		return nil, err
	}
	if err := s.store.FinishRun(runID, result.State, result.BestMetric, result.Epochs); err != nil {
		s.log.Warn("failed to finalize run record", zap.Int64("run_id", runID), zap.Error(err))
	}
	// Serve the checkpoint this run just published. The watcher covers
	// externally published checkpoints; this covers our own.
	if err := s.predictor.Reload(s.cfg.Train.CheckpointPath); err != nil {
		s.log.Warn("predictor reload after training failed",
			zap.String("path", s.cfg.Train.CheckpointPath), zap.Error(err))
	}
	return result, nil
}

// Evaluate loads the given checkpoint and scores it over the named split of
// the configured dataset.
func (s *Service) Evaluate(ctx context.Context, checkpointPath, splitName string) (evaluate.Metrics, error) {
	split, err := dataset.ParseSplit(splitName)
	if err != nil {
		return evaluate.Metrics{}, err
	}
	if checkpointPath == "" {
		checkpointPath = s.cfg.Train.CheckpointPath
	}

	cp, err := model.Load(checkpointPath)
	if err != nil {
		return evaluate.Metrics{}, err
	}
	backbone, err := newBackbone(s.cfg.Model, s.cfg.Dataset.ImageSize)
	if err != nil {
		return evaluate.Metrics{}, err
	}
	defer backbone.Close()
	clf, err := model.Restore(cp, backbone)
	if err != nil {
		return evaluate.Metrics{}, err
	}

	ds, err := dataset.Open(s.cfg.Dataset)
	if err != nil {
		return evaluate.Metrics{}, err
	}
	loader, err := dataset.NewLoader(ds.Split(split), cp.Encoding, s.cfg.Dataset, s.log)
	if err != nil {
		return evaluate.Metrics{}, err
	}

	metrics, err := evaluate.Evaluate(ctx, clf, loader, cp.Encoding.Classes())
	if err != nil {
		return evaluate.Metrics{}, err
	}
	if err := s.store.RecordEvaluation(checkpointPath, string(split), metrics.Accuracy, metrics.Samples); err != nil {
		s.log.Warn("failed to record evaluation", zap.Error(err))
	}
	return metrics, nil
}

// Runs lists recent training runs.
func (s *Service) Runs(limit int) ([]runstore.Run, error) {
	return s.store.ListRuns(limit)
}

// Close releases the predictor's backbone.
func (s *Service) Close() error {
	if s.predictor != nil {
		return s.predictor.Close()
	}
	return nil
}
