package preprocessing

import (
	"fmt"
	"image"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/tsawler/go-medclip/tensor"
)

// Preprocessor decodes, resizes, and normalizes images into the flat pixel
// vectors the encoder consumes. Output layout is channel-major: all values
// of channel 0, then channel 1, and so on, each scaled to [0, 1].
type Preprocessor struct {
	size     int
	channels int
}

// NewPreprocessor creates a preprocessor producing size x size images with
// the given channel count (1 for grayscale, 3 for RGB)
func NewPreprocessor(size, channels int) (*Preprocessor, error) {
	if size < 1 {
		return nil, fmt.Errorf("image size must be at least 1, got %d", size)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("channel count must be 1 or 3, got %d", channels)
	}

	return &Preprocessor{size: size, channels: channels}, nil
}

// PixelDim returns the length of the produced pixel vectors
func (p *Preprocessor) PixelDim() int {
	return p.channels * p.size * p.size
}

// FromFile decodes and preprocesses the image at the given path
func (p *Preprocessor) FromFile(path string) (*tensor.Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %v", err)
	}
	defer file.Close()

	t, err := p.FromReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess %s: %v", path, err)
	}
	return t, nil
}

// FromReader decodes and preprocesses an image stream
func (p *Preprocessor) FromReader(r io.Reader) (*tensor.Tensor, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	return p.FromImage(img)
}

// FromImage resizes and normalizes a decoded image
func (p *Preprocessor) FromImage(img image.Image) (*tensor.Tensor, error) {
	resized := p.resize(img)

	data := make([]float32, p.PixelDim())
	plane := p.size * p.size

	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()

			idx := y*p.size + x
			if p.channels == 1 {
				// Luminance per ITU-R BT.601
				gray := 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)
				data[idx] = gray / 65535.0
			} else {
				data[idx] = float32(r) / 65535.0
				data[plane+idx] = float32(g) / 65535.0
				data[2*plane+idx] = float32(b) / 65535.0
			}
		}
	}

	return tensor.NewTensor([]int{p.PixelDim()}, tensor.Float32, tensor.CPU, data)
}

// resize scales the image to the target square with bilinear filtering
func (p *Preprocessor) resize(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == p.size && bounds.Dy() == p.size {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}
