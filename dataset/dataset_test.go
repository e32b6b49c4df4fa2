package dataset

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/label"
)

func writeTestImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 100, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode image: %v", err)
	}
}

func makeDataset(t *testing.T, counts map[string]int) string {
	t.Helper()
	root := t.TempDir()
	for class, n := range counts {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for i := 0; i < n; i++ {
			writeTestImage(t, filepath.Join(dir, class+"_"+string(rune('a'+i))+".png"))
		}
	}
	return root
}

func TestScanMissingRoot(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestScanEmptyRoot(t *testing.T) {
	_, err := Scan(t.TempDir())
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestPartitionDeterministic(t *testing.T) {
	root := makeDataset(t, map[string]int{"mel": 8, "nv": 8, "bcc": 4})
	samples, err := Scan(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ratios := config.SplitRatios{Train: 0.5, Val: 0.25, Test: 0.25}
	a := Partition(samples, 42, ratios)
	b := Partition(samples, 42, ratios)

	for _, name := range []SplitName{SplitTrain, SplitVal, SplitTest} {
		if len(a[name]) != len(b[name]) {
			t.Fatalf("split %s size differs across runs", name)
		}
		for i := range a[name] {
			if a[name][i].Path != b[name][i].Path {
				t.Fatalf("split %s membership differs across runs", name)
			}
		}
	}
}

func TestPartitionDisjointAndComplete(t *testing.T) {
	root := makeDataset(t, map[string]int{"mel": 7, "nv": 6})
	samples, err := Scan(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	splits := Partition(samples, 7, config.SplitRatios{Train: 0.7, Val: 0.15, Test: 0.15})

	seen := make(map[string]int)
	total := 0
	for _, name := range []SplitName{SplitTrain, SplitVal, SplitTest} {
		for _, s := range splits[name] {
			seen[s.Path]++
			total++
		}
	}
	if total != len(samples) {
		t.Fatalf("splits cover %d samples, expected %d", total, len(samples))
	}
	for path, n := range seen {
		if n != 1 {
			t.Fatalf("sample %s appears in %d splits", path, n)
		}
	}
}

func TestLoaderSkipsCorruptSample(t *testing.T) {
	root := makeDataset(t, map[string]int{"mel": 3})
	corrupt := filepath.Join(root, "mel", "broken.png")
	if err := os.WriteFile(corrupt, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	samples, err := Scan(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}

	cfg := config.Default().Dataset
	cfg.BatchSize = 2
	cfg.ImageSize = 16
	enc := label.Fit([]string{"mel"})
	loader, err := NewLoader(samples, enc, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := 0
	for batch := range loader.Batches(context.Background(), nil) {
		got += batch.Size
		if len(batch.Inputs) != batch.Size*3*16*16 {
			t.Fatalf("tensor size mismatch: %d values for %d samples", len(batch.Inputs), batch.Size)
		}
	}
	if got != 3 {
		t.Fatalf("expected 3 decoded samples, got %d", got)
	}
}

func TestOpenWithMetadata(t *testing.T) {
	root := makeDataset(t, map[string]int{"mel": 2, "nv": 2})
	csvPath := filepath.Join(t.TempDir(), "meta.csv")
	content := "lesion_id,image_id,dx\n" +
		"l1,mel_a,mel\n" +
		"l2,mel_b,mel\n" +
		"l3,nv_a,nv\n"
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	cfg := config.Default().Dataset
	cfg.Root = root
	cfg.MetadataCSV = csvPath
	ds, err := Open(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// nv_b is on disk but absent from the metadata table.
	if ds.Len() != 3 {
		t.Fatalf("expected 3 samples after metadata filter, got %d", ds.Len())
	}
	if len(ds.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %v", ds.Classes)
	}
}

func TestDecodeBytesInvalid(t *testing.T) {
	if _, err := DecodeBytes([]byte("garbage"), 16); err == nil {
		t.Fatal("expected error for undecodable bytes")
	}
}
