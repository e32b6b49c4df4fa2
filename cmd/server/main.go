package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/api"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/logging"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/monitor"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/pipeline"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/predict"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/runstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := runstore.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open run store", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()

	service, err := pipeline.New(cfg, store, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload the predictor when a new checkpoint lands, including the
	// very first one on a fresh deployment.
	go func() {
		if err := predict.WatchCheckpoint(ctx, service.Predictor(), cfg.Train.CheckpointPath, logger); err != nil && ctx.Err() == nil {
			logger.Error("checkpoint watcher stopped", zap.Error(err))
		}
	}()

	hub := monitor.NewHub(logger)
	server := api.NewServer(cfg.HTTP.Port, service, hub, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server forced to shut down", zap.Error(err))
	}
	logger.Info("exiting")
}
