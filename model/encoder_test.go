package model

import (
	"math"
	"testing"

	"github.com/tsawler/go-medclip/prompts"
	"github.com/tsawler/go-medclip/tensor"
)

func testPromptSet(t *testing.T, captions []string) *prompts.Set {
	t.Helper()
	tok, err := prompts.NewTokenizer(256, 8)
	if err != nil {
		t.Fatalf("Failed to create tokenizer: %v", err)
	}
	set, err := tok.Tokenize("COVID", captions)
	if err != nil {
		t.Fatalf("Failed to tokenize: %v", err)
	}
	return set
}

func testPixels(t *testing.T, batchSize, pixelDim int) *tensor.Tensor {
	t.Helper()
	data := make([]float32, batchSize*pixelDim)
	for i := range data {
		data[i] = float32(i%7)/7.0 - 0.5
	}
	pixels, err := tensor.NewTensor([]int{batchSize, pixelDim}, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("Failed to create pixel tensor: %v", err)
	}
	return pixels
}

func TestLinearDualEncoderForward(t *testing.T) {
	encoder, err := NewLinearDualEncoder(VisionLinear, 12, 0, 8, 256, 1)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}

	pixels := testPixels(t, 3, 12)
	set := testPromptSet(t, []string{
		"a photo of normal lungs.",
		"a photo of covid lungs.",
	})

	output, err := encoder.Forward(pixels, set)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if output.LogitsPerImage.Shape[0] != 3 || output.LogitsPerImage.Shape[1] != 2 {
		t.Fatalf("Expected image logits [3, 2], got %v", output.LogitsPerImage.Shape)
	}
	if output.LogitsPerText.Shape[0] != 2 || output.LogitsPerText.Shape[1] != 3 {
		t.Fatalf("Expected text logits [2, 3], got %v", output.LogitsPerText.Shape)
	}

	// logits_per_text is the exact transpose
	img := output.LogitsPerImage.Data.([]float32)
	txt := output.LogitsPerText.Data.([]float32)
	for b := 0; b < 3; b++ {
		for n := 0; n < 2; n++ {
			if img[b*2+n] != txt[n*3+b] {
				t.Errorf("Transpose mismatch at [%d, %d]", b, n)
			}
		}
	}

	// Embeddings are unit-normalized, so |logit| <= exp(logitScale)
	maxLogit := float32(math.Exp(math.Log(1.0 / 0.07)))
	for i, v := range img {
		if v > maxLogit+1e-3 || v < -maxLogit-1e-3 {
			t.Errorf("Logit %d out of similarity range: %v", i, v)
		}
	}
}

func TestViTBackbonePooling(t *testing.T) {
	t.Run("Valid patch count", func(t *testing.T) {
		encoder, err := NewLinearDualEncoder(VisionViT, 12, 4, 8, 256, 1)
		if err != nil {
			t.Fatalf("Failed to create ViT encoder: %v", err)
		}

		// Patch projection dimension is pixelDim / patchCount
		if encoder.pooledDim != 3 {
			t.Errorf("Expected pooled dimension 3, got %d", encoder.pooledDim)
		}

		pixels := testPixels(t, 2, 12)
		set := testPromptSet(t, []string{"a photo of covid lungs."})

		output, err := encoder.Forward(pixels, set)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if output.LogitsPerImage.Shape[0] != 2 || output.LogitsPerImage.Shape[1] != 1 {
			t.Errorf("Expected logits [2, 1], got %v", output.LogitsPerImage.Shape)
		}
	})

	t.Run("Indivisible patch count rejected", func(t *testing.T) {
		if _, err := NewLinearDualEncoder(VisionViT, 10, 4, 8, 256, 1); err == nil {
			t.Error("Expected error for pixel dimension not divisible by patch count")
		}
	})
}

func TestEncoderDeterminism(t *testing.T) {
	a, err := NewLinearDualEncoder(VisionLinear, 12, 0, 8, 256, 42)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}
	b, err := NewLinearDualEncoder(VisionLinear, 12, 0, 8, 256, 42)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}

	aw := a.Parameters()[0].Data.([]float32)
	bw := b.Parameters()[0].Data.([]float32)
	for i := range aw {
		if aw[i] != bw[i] {
			t.Fatalf("Same seed produced different weights at %d", i)
		}
	}
}

func TestBackward(t *testing.T) {
	t.Run("Accumulates gradients on all parameters", func(t *testing.T) {
		encoder, err := NewLinearDualEncoder(VisionLinear, 12, 0, 8, 256, 1)
		if err != nil {
			t.Fatalf("Failed to create encoder: %v", err)
		}

		pixels := testPixels(t, 2, 12)
		set := testPromptSet(t, []string{
			"a photo of normal lungs.",
			"a photo of covid lungs.",
		})

		if _, err := encoder.Forward(pixels, set); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		grad, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, -1, -1, 1})
		if err := encoder.Backward(grad); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		for i, p := range encoder.Parameters() {
			if p.Grad() == nil {
				t.Errorf("Parameter %d has no gradient after Backward", i)
				continue
			}
			if p.Grad().NumElems != p.NumElems {
				t.Errorf("Parameter %d gradient size mismatch", i)
			}
		}
	})

	t.Run("Logit scale gradient equals sum of logits for unit gradient", func(t *testing.T) {
		// logits = exp(theta) * sim, so with dLoss/dLogits = 1 everywhere,
		// dLoss/dTheta = sum(logits)
		encoder, err := NewLinearDualEncoder(VisionLinear, 12, 0, 8, 256, 1)
		if err != nil {
			t.Fatalf("Failed to create encoder: %v", err)
		}

		pixels := testPixels(t, 2, 12)
		set := testPromptSet(t, []string{
			"a photo of normal lungs.",
			"a photo of covid lungs.",
		})

		output, err := encoder.Forward(pixels, set)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		var logitSum float64
		for _, v := range output.LogitsPerImage.Data.([]float32) {
			logitSum += float64(v)
		}

		ones, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 1, 1, 1})
		if err := encoder.Backward(ones); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		scaleGrad, err := encoder.Parameters()[2].Grad().Float32Slice()
		if err != nil {
			t.Fatalf("Gradient access failed: %v", err)
		}

		if math.Abs(float64(scaleGrad[0])-logitSum) > 1e-3 {
			t.Errorf("Expected logit scale gradient %.5f, got %.5f", logitSum, scaleGrad[0])
		}
	})

	t.Run("Backward without forward rejected", func(t *testing.T) {
		encoder, err := NewLinearDualEncoder(VisionLinear, 12, 0, 8, 256, 1)
		if err != nil {
			t.Fatalf("Failed to create encoder: %v", err)
		}

		grad, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, make([]float32, 4))
		if err := encoder.Backward(grad); err == nil {
			t.Error("Expected error for Backward without a cached forward pass")
		}
	})

	t.Run("Eval mode drops the cache", func(t *testing.T) {
		encoder, err := NewLinearDualEncoder(VisionLinear, 12, 0, 8, 256, 1)
		if err != nil {
			t.Fatalf("Failed to create encoder: %v", err)
		}

		pixels := testPixels(t, 2, 12)
		set := testPromptSet(t, []string{"a", "b"})
		if _, err := encoder.Forward(pixels, set); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		encoder.Eval()

		grad, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, make([]float32, 4))
		if err := encoder.Backward(grad); err == nil {
			t.Error("Expected error for Backward after Eval")
		}
	})
}
