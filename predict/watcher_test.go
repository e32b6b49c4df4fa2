package predict

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/model"
)

// startWatcher runs WatchCheckpoint in the background and gives the watch a
// moment to establish before the test publishes anything.
func startWatcher(t *testing.T, p *Predictor, path string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchCheckpoint(ctx, p, path, zap.NewNop())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Publishing a new checkpoint over the watched path must swap the served
// model without any restart.
func TestWatcherReloadsPublishedCheckpoint(t *testing.T) {
	p, path := newTestPredictor(t, []string{"mel", "nv"})
	startWatcher(t, p, path)

	writeCheckpoint(t, path, []string{"akiec", "df", "vasc"})
	waitFor(t, "reloaded classes", func() bool { return len(p.Classes()) == 3 })

	if classes := p.Classes(); classes[0] != "akiec" {
		t.Fatalf("expected reloaded classes, got %v", classes)
	}
}

// On a fresh deployment no checkpoint exists yet; the first one published
// must bring an idle predictor online.
func TestWatcherBringsIdlePredictorOnline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lesion.ckpt")
	p := NewIdlePredictor(model.NewPixelBackbone(testImgSize), testImgSize, zap.NewNop())
	if p.Ready() {
		t.Fatal("predictor ready before any checkpoint exists")
	}
	r := p.PredictOne(context.Background(), encodePNG(t, color.RGBA{R: 100, A: 255}))
	if !errors.Is(r.Err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", r.Err)
	}

	startWatcher(t, p, path)

	writeCheckpoint(t, path, []string{"mel", "nv"})
	waitFor(t, "predictor to come online", func() bool { return p.Ready() })

	r = p.PredictOne(context.Background(), encodePNG(t, color.RGBA{R: 100, A: 255}))
	if r.Err != nil {
		t.Fatalf("unexpected error after first checkpoint: %v", r.Err)
	}
	if r.Label == "" {
		t.Fatal("missing label after first checkpoint")
	}
}

func TestWatchCheckpointStopsOnCancel(t *testing.T) {
	p, path := newTestPredictor(t, []string{"mel", "nv"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchCheckpoint(ctx, p, path, zap.NewNop())
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
