package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// resnet152FeatureDim is the width of the penultimate layer of ResNet-152,
// which is what the headless ONNX export emits per image.
const resnet152FeatureDim = 2048

// FeatureExtractor turns a batch of preprocessed image tensors (flattened
// [n, 3, size, size] CHW float32) into one embedding row per image.
type FeatureExtractor interface {
	Extract(inputs []float32, n int) ([][]float64, error)
	Dim() int
	Close() error
}

var ortInit sync.Once

// ONNXBackbone runs the pretrained ResNet-152 backbone through ONNX Runtime.
// The export has its ImageNet classification layer stripped, so the graph
// output is the 2048-wide pooled embedding.
type ONNXBackbone struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	imgSize int
}

func NewONNXBackbone(path string, imgSize int) (*ONNXBackbone, error) {
	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"input"}, []string{"output"}, nil)
	if err != nil {
		return nil, fmt.Errorf("load backbone %s: %w", path, err)
	}
	return &ONNXBackbone{session: session, imgSize: imgSize}, nil
}

func (b *ONNXBackbone) Dim() int { return resnet152FeatureDim }

func (b *ONNXBackbone) Extract(inputs []float32, n int) ([][]float64, error) {
	if n <= 0 || len(inputs) != n*3*b.imgSize*b.imgSize {
		return nil, fmt.Errorf("input tensor has %d values, expected %d", len(inputs), n*3*b.imgSize*b.imgSize)
	}

	shape := ort.NewShape(int64(n), 3, int64(b.imgSize), int64(b.imgSize))
	in, err := ort.NewTensor(shape, inputs)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	// A session run is stateful in onnxruntime; serialize access so the
	// trainer's loader workers and concurrent callers cannot interleave.
	b.mu.Lock()
	outputs := []ort.ArbitraryTensor{nil}
	err = b.session.Run([]ort.ArbitraryTensor{in}, outputs)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("backbone inference: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("backbone returned unexpected output type %T", outputs[0])
	}
	defer out.Destroy()

	data := out.GetData()
	if len(data) != n*resnet152FeatureDim {
		return nil, fmt.Errorf("backbone returned %d values, expected %d", len(data), n*resnet152FeatureDim)
	}

	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, resnet152FeatureDim)
		for j := 0; j < resnet152FeatureDim; j++ {
			row[j] = float64(data[i*resnet152FeatureDim+j])
		}
		rows[i] = row
	}
	return rows, nil
}

func (b *ONNXBackbone) Close() error {
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	return nil
}

// PixelBackbone is the non-pretrained fallback: mean-pooled color features
// over a coarse grid. It keeps the pipeline runnable without the ONNX export
// (and keeps tests off the native runtime), at the cost of accuracy.
type PixelBackbone struct {
	imgSize int
	grid    int
}

func NewPixelBackbone(imgSize int) *PixelBackbone {
	return &PixelBackbone{imgSize: imgSize, grid: 8}
}

func (b *PixelBackbone) Dim() int { return 3 * b.grid * b.grid }

func (b *PixelBackbone) Extract(inputs []float32, n int) ([][]float64, error) {
	plane := b.imgSize * b.imgSize
	if n <= 0 || len(inputs) != n*3*plane {
		return nil, fmt.Errorf("input tensor has %d values, expected %d", len(inputs), n*3*plane)
	}

	cell := b.imgSize / b.grid
	if cell == 0 {
		cell = 1
	}
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, b.Dim())
		img := inputs[i*3*plane : (i+1)*3*plane]
		for ch := 0; ch < 3; ch++ {
			for gy := 0; gy < b.grid; gy++ {
				for gx := 0; gx < b.grid; gx++ {
					sum := 0.0
					count := 0
					for y := gy * cell; y < (gy+1)*cell && y < b.imgSize; y++ {
						for x := gx * cell; x < (gx+1)*cell && x < b.imgSize; x++ {
							sum += float64(img[ch*plane+y*b.imgSize+x])
							count++
						}
					}
					if count > 0 {
						row[ch*b.grid*b.grid+gy*b.grid+gx] = sum / float64(count)
					}
				}
			}
		}
		rows[i] = row
	}
	return rows, nil
}

func (b *PixelBackbone) Close() error { return nil }
