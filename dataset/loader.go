package dataset

import (
	"context"
	"math/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/config"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/label"
)

// Batch is a group of decoded samples ready for the model. Inputs is a
// flattened [Size, 3, imgSize, imgSize] tensor.
type Batch struct {
	Inputs []float32
	Labels []int
	Paths  []string
	Size   int
}

// Loader turns a split's samples into batches of decoded tensors. Decoding
// runs across a small worker pool per batch, but batches come out of a single
// channel in a fixed order, so the consumer stays single threaded. Decoded
// tensors are cached in an LRU so epochs beyond the first mostly skip JPEG
// decoding. Calling Batches again restarts iteration from the beginning.
type Loader struct {
	samples []Sample
	enc     label.Encoding
	batch   int
	imgSize int
	workers int
	cache   *lru.Cache[string, []float32]
	log     *zap.Logger
}

func NewLoader(samples []Sample, enc label.Encoding, cfg config.DatasetConfig, log *zap.Logger) (*Loader, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Loader{
		samples: samples,
		enc:     enc,
		batch:   cfg.BatchSize,
		imgSize: cfg.ImageSize,
		workers: workers,
		cache:   cache,
		log:     log,
	}, nil
}

func (l *Loader) NumSamples() int {
	return len(l.samples)
}

// Batches produces the split's batches on the returned channel. If rng is
// non-nil the sample order is reshuffled first (training); with a nil rng the
// order is the stable scan order (validation, evaluation). The channel closes
// after the last batch, or early if ctx is canceled.
func (l *Loader) Batches(ctx context.Context, rng *rand.Rand) <-chan Batch {
	order := make([]int, len(l.samples))
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	out := make(chan Batch)
	go func() {
		defer close(out)
		for start := 0; start < len(order); start += l.batch {
			end := start + l.batch
			if end > len(order) {
				end = len(order)
			}
			batch := l.decodeBatch(order[start:end])
			if batch.Size == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// decodeBatch decodes one batch worth of samples in parallel. Samples that
// fail to decode or carry a label outside the encoding are dropped with a
// warning; the batch shrinks rather than failing.
func (l *Loader) decodeBatch(indices []int) Batch {
	type slot struct {
		tensor []float32
		lbl    int
		path   string
		ok     bool
	}
	slots := make([]slot, len(indices))

	var wg sync.WaitGroup
	sem := make(chan struct{}, l.workers)
	for i, idx := range indices {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, s Sample) {
			defer wg.Done()
			defer func() { <-sem }()

			lbl, err := l.enc.Encode(s.Class)
			if err != nil {
				l.log.Warn("skipping sample with unencodable class",
					zap.String("path", s.Path), zap.Error(err))
				return
			}
			tensor, err := l.decode(s.Path)
			if err != nil {
				l.log.Warn("skipping unreadable sample",
					zap.String("path", s.Path), zap.Error(err))
				return
			}
			slots[i] = slot{tensor: tensor, lbl: lbl, path: s.Path, ok: true}
		}(i, l.samples[idx])
	}
	wg.Wait()

	plane := 3 * l.imgSize * l.imgSize
	batch := Batch{
		Inputs: make([]float32, 0, len(indices)*plane),
		Labels: make([]int, 0, len(indices)),
		Paths:  make([]string, 0, len(indices)),
	}
	for _, s := range slots {
		if !s.ok {
			continue
		}
		batch.Inputs = append(batch.Inputs, s.tensor...)
		batch.Labels = append(batch.Labels, s.lbl)
		batch.Paths = append(batch.Paths, s.path)
		batch.Size++
	}
	return batch
}

func (l *Loader) decode(path string) ([]float32, error) {
	if tensor, ok := l.cache.Get(path); ok {
		return tensor, nil
	}
	tensor, err := DecodeFile(path, l.imgSize)
	if err != nil {
		return nil, err
	}
	l.cache.Add(path, tensor)
	return tensor, nil
}
