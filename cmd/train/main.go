package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/evaluate"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/label"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/logging"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/model"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/train"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dataRoot := flag.String("data", "", "dataset root (overrides config)")
	checkpoint := flag.String("checkpoint", "", "checkpoint output path (overrides config)")
	epochs := flag.Int("epochs", 0, "number of epochs (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dataRoot != "" {
		cfg.Dataset.Root = *dataRoot
	}
	if *checkpoint != "" {
		cfg.Train.CheckpointPath = *checkpoint
	}
	if *epochs > 0 {
		cfg.Train.Epochs = *epochs
	}

	logger, err := logging.New(cfg.Log.Level, "")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// A stop request finishes the current epoch before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := dataset.Open(cfg.Dataset)
	if err != nil {
		logger.Fatal("failed to open dataset", zap.Error(err))
	}
	enc := label.Fit(ds.Classes)
	logger.Info("dataset loaded",
		zap.Int("samples", ds.Len()),
		zap.Strings("classes", enc.Classes()))

	clf, err := model.Create(cfg.Model, cfg.Dataset.ImageSize, enc.NumClasses(), cfg.Dataset.Seed)
	if err != nil {
		logger.Fatal("failed to create model", zap.Error(err))
	}
	defer clf.Close()

	trainLoader, err := dataset.NewLoader(ds.Split(dataset.SplitTrain), enc, cfg.Dataset, logger)
	if err != nil {
		logger.Fatal("failed to build train loader", zap.Error(err))
	}
	valLoader, err := dataset.NewLoader(ds.Split(dataset.SplitVal), enc, cfg.Dataset, logger)
	if err != nil {
		logger.Fatal("failed to build val loader", zap.Error(err))
	}

	trainer := train.New(cfg, clf, enc, trainLoader, valLoader, logger)
	result, err := trainer.Run(ctx)
	if err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
	logger.Info("training finished",
		zap.String("state", result.State),
		zap.Int("epochs", result.Epochs),
		zap.Float64("best_metric", result.BestMetric))

	// Score the best checkpoint on the held-out test split.
	cp, err := model.Load(result.Checkpoint)
	if err != nil {
		logger.Fatal("failed to load best checkpoint", zap.Error(err))
	}
	best, err := model.Restore(cp, clf.Backbone)
	if err != nil {
		logger.Fatal("failed to restore best checkpoint", zap.Error(err))
	}
	testLoader, err := dataset.NewLoader(ds.Split(dataset.SplitTest), cp.Encoding, cfg.Dataset, logger)
	if err != nil {
		logger.Fatal("failed to build test loader", zap.Error(err))
	}
	metrics, err := evaluate.Evaluate(ctx, best, testLoader, cp.Encoding.Classes())
	if err != nil {
		logger.Fatal("test evaluation failed", zap.Error(err))
	}

	fmt.Printf("test accuracy: %.4f over %d samples\n", metrics.Accuracy, metrics.Samples)
	for _, c := range metrics.PerClass {
		fmt.Printf("  %-8s precision=%.4f recall=%.4f support=%d\n", c.Class, c.Precision, c.Recall, c.Support)
	}
	fmt.Printf("checkpoint saved to %s\n", result.Checkpoint)
}
