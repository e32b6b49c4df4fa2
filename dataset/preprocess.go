package dataset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
)

// ImageNet channel statistics, matching how the backbone was pretrained.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// DecodeFile reads and preprocesses a single image file into a CHW float32
// tensor of shape [3, size, size].
func DecodeFile(path string, size int) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return Preprocess(img, size), nil
}

// DecodeBytes preprocesses raw image bytes, as received over the service
// boundary.
func DecodeBytes(data []byte, size int) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return Preprocess(img, size), nil
}

// Preprocess resizes to size x size and normalizes each channel with the
// ImageNet statistics, producing the CHW layout the backbone expects.
func Preprocess(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			i := y*size + x
			out[i] = (float32(r)/65535.0 - imagenetMean[0]) / imagenetStd[0]
			out[plane+i] = (float32(g)/65535.0 - imagenetMean[1]) / imagenetStd[1]
			out[2*plane+i] = (float32(b)/65535.0 - imagenetMean[2]) / imagenetStd[2]
		}
	}
	return out
}
