package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solidImage(t *testing.T, width, height int, c color.Color) image.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNewPreprocessor(t *testing.T) {
	if _, err := NewPreprocessor(0, 3); err == nil {
		t.Error("Expected error for zero size")
	}
	if _, err := NewPreprocessor(8, 2); err == nil {
		t.Error("Expected error for 2 channels")
	}

	p, err := NewPreprocessor(8, 3)
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}
	if p.PixelDim() != 192 {
		t.Errorf("Expected pixel dim 192, got %d", p.PixelDim())
	}
}

func TestFromImage(t *testing.T) {
	t.Run("RGB planes and value range", func(t *testing.T) {
		p, err := NewPreprocessor(4, 3)
		if err != nil {
			t.Fatalf("NewPreprocessor failed: %v", err)
		}

		pixels, err := p.FromImage(solidImage(t, 4, 4, color.RGBA{R: 255, G: 0, B: 0, A: 255}))
		if err != nil {
			t.Fatalf("FromImage failed: %v", err)
		}

		if pixels.Shape[0] != 48 {
			t.Fatalf("Expected shape [48], got %v", pixels.Shape)
		}

		data := pixels.Data.([]float32)
		// Red plane near 1, green and blue planes near 0
		if data[0] < 0.99 {
			t.Errorf("Expected red channel ~1.0, got %v", data[0])
		}
		if data[16] > 0.01 || data[32] > 0.01 {
			t.Errorf("Expected zero green/blue channels, got %v and %v", data[16], data[32])
		}
	})

	t.Run("Grayscale luminance", func(t *testing.T) {
		p, err := NewPreprocessor(4, 1)
		if err != nil {
			t.Fatalf("NewPreprocessor failed: %v", err)
		}

		pixels, err := p.FromImage(solidImage(t, 4, 4, color.Gray{Y: 128}))
		if err != nil {
			t.Fatalf("FromImage failed: %v", err)
		}

		if pixels.Shape[0] != 16 {
			t.Fatalf("Expected shape [16], got %v", pixels.Shape)
		}

		got := pixels.Data.([]float32)[0]
		want := float32(128) / 255.0
		if got < want-0.01 || got > want+0.01 {
			t.Errorf("Expected luminance ~%v, got %v", want, got)
		}
	})

	t.Run("Resize to target square", func(t *testing.T) {
		p, err := NewPreprocessor(8, 3)
		if err != nil {
			t.Fatalf("NewPreprocessor failed: %v", err)
		}

		pixels, err := p.FromImage(solidImage(t, 32, 16, color.White))
		if err != nil {
			t.Fatalf("FromImage failed: %v", err)
		}

		if pixels.NumElems != 192 {
			t.Errorf("Expected 192 elements after resize, got %d", pixels.NumElems)
		}
		for i, v := range pixels.Data.([]float32) {
			if v < 0 || v > 1 {
				t.Fatalf("Value %d out of [0, 1]: %v", i, v)
			}
		}
	})
}

func TestFromReader(t *testing.T) {
	p, err := NewPreprocessor(4, 3)
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(t, 4, 4, color.White)); err != nil {
		t.Fatalf("PNG encode failed: %v", err)
	}

	pixels, err := p.FromReader(&buf)
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	if pixels.Shape[0] != 48 {
		t.Errorf("Expected shape [48], got %v", pixels.Shape)
	}

	t.Run("Garbage input rejected", func(t *testing.T) {
		if _, err := p.FromReader(bytes.NewBufferString("not an image")); err == nil {
			t.Error("Expected decode error")
		}
	})
}
