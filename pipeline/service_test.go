package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/runstore"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/train"
)

func encodeTestImage(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	return buf.Bytes()
}

func writeImage(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	if err := os.WriteFile(path, encodeTestImage(t, c), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	root := t.TempDir()
	colors := map[string]color.RGBA{
		"mel": {R: 220, G: 40, B: 40, A: 255},
		"nv":  {R: 40, G: 40, B: 220, A: 255},
	}
	for class, c := range colors {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for i := 0; i < 8; i++ {
			writeImage(t, filepath.Join(dir, class+string(rune('a'+i))+".png"), c)
		}
	}

	cfg := config.Default()
	cfg.Dataset.Root = root
	cfg.Dataset.ImageSize = 16
	cfg.Dataset.BatchSize = 4
	cfg.Dataset.Ratios = config.SplitRatios{Train: 0.5, Val: 0.25, Test: 0.25}
	cfg.Model.Pretrained = false
	cfg.Train.Epochs = 3
	cfg.Train.CheckpointPath = filepath.Join(t.TempDir(), "lesion.ckpt")

	store, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	service, err := New(cfg, store, zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { service.Close() })
	return service
}

func TestTrainThenEvaluate(t *testing.T) {
	service := newTestService(t)

	epochs := 0
	result, err := service.Train(context.Background(), func(train.EpochUpdate) { epochs++ })
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if result.State != train.StateCompleted && result.State != train.StateEarlyStopped {
		t.Fatalf("unexpected terminal state %q", result.State)
	}
	if epochs == 0 {
		t.Fatal("no epoch updates received")
	}

	if _, err := os.Stat(result.Checkpoint); err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}

	metrics, err := service.Evaluate(context.Background(), result.Checkpoint, string(dataset.SplitTest))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if metrics.Samples == 0 {
		t.Fatal("evaluation saw no samples")
	}
	if metrics.Accuracy < 0 || metrics.Accuracy > 1 {
		t.Fatalf("accuracy out of range: %v", metrics.Accuracy)
	}

	runs, err := service.Runs(10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].State != result.State {
		t.Fatalf("run state %q does not match result %q", runs[0].State, result.State)
	}
}

// A service started before any checkpoint exists must begin serving once the
// first training run publishes one, without a restart.
func TestFreshServiceServesAfterFirstTraining(t *testing.T) {
	service := newTestService(t)

	p := service.Predictor()
	if p == nil {
		t.Fatal("expected a predictor even without a checkpoint")
	}
	if p.Ready() {
		t.Fatal("predictor ready before any checkpoint exists")
	}

	if _, err := service.Train(context.Background(), nil); err != nil {
		t.Fatalf("train: %v", err)
	}

	if !p.Ready() {
		t.Fatal("predictor still not serving after training published a checkpoint")
	}
	img := encodeTestImage(t, color.RGBA{R: 220, G: 40, B: 40, A: 255})
	r := p.PredictOne(context.Background(), img)
	if r.Err != nil {
		t.Fatalf("predict after first training: %v", r.Err)
	}
	if len(r.Probabilities) != 2 {
		t.Fatalf("expected 2 class probabilities, got %d", len(r.Probabilities))
	}
}

func TestEvaluateUnknownSplit(t *testing.T) {
	service := newTestService(t)
	_, err := service.Evaluate(context.Background(), "", "holdout")
	if !errors.Is(err, dataset.ErrUnknownSplit) {
		t.Fatalf("expected ErrUnknownSplit, got %v", err)
	}
}

func TestConcurrentTrainRejected(t *testing.T) {
	service := newTestService(t)

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	done := make(chan struct{})
	err := service.StartTrain(context.Background(), func(train.EpochUpdate) {
		once.Do(func() {
			close(blocked)
			<-release
		})
	}, func(*train.Result, error) {
		close(done)
	})
	if err != nil {
		t.Fatalf("start train: %v", err)
	}
	<-blocked

	if _, err := service.Train(context.Background(), nil); !errors.Is(err, ErrTrainingInProgress) {
		t.Fatalf("expected ErrTrainingInProgress, got %v", err)
	}
	close(release)
	<-done
}
