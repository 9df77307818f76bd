package training

import (
	"testing"

	"github.com/tsawler/go-medclip/tensor"
)

func sequentialDataset(t *testing.T, size, pixelDim int) *SimpleDataset {
	t.Helper()

	pixels := make([]*tensor.Tensor, size)
	labels := make([]int32, size)
	for i := range pixels {
		data := make([]float32, pixelDim)
		for j := range data {
			data[j] = float32(i)
		}
		sample, err := tensor.NewTensor([]int{pixelDim}, tensor.Float32, tensor.CPU, data)
		if err != nil {
			t.Fatalf("Failed to create sample: %v", err)
		}
		pixels[i] = sample
		labels[i] = int32(i % 2)
	}

	dataset, err := NewSimpleDataset(pixels, labels)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	return dataset
}

func TestDataLoader(t *testing.T) {
	t.Run("Batch shapes and ordering without shuffle", func(t *testing.T) {
		loader, err := NewDataLoader(sequentialDataset(t, 6, 4), 2, false, 1)
		if err != nil {
			t.Fatalf("NewDataLoader failed: %v", err)
		}

		if loader.Len() != 3 {
			t.Errorf("Expected 3 batches, got %d", loader.Len())
		}

		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}

		if batch.Pixels.Shape[0] != 2 || batch.Pixels.Shape[1] != 4 {
			t.Errorf("Expected pixel shape [2, 4], got %v", batch.Pixels.Shape)
		}
		if batch.Size() != 2 {
			t.Errorf("Expected batch size 2, got %d", batch.Size())
		}

		pixels := batch.Pixels.Data.([]float32)
		if pixels[0] != 0 || pixels[4] != 1 {
			t.Errorf("Samples out of order: row values %v and %v", pixels[0], pixels[4])
		}

		labels, err := batch.Labels.Int32Slice()
		if err != nil {
			t.Fatalf("Label access failed: %v", err)
		}
		if labels[0] != 0 || labels[1] != 1 {
			t.Errorf("Expected labels [0, 1], got %v", labels)
		}
	})

	t.Run("Final partial batch", func(t *testing.T) {
		loader, err := NewDataLoader(sequentialDataset(t, 5, 4), 2, false, 1)
		if err != nil {
			t.Fatalf("NewDataLoader failed: %v", err)
		}

		var sizes []int
		for {
			batch, err := loader.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if batch == nil {
				break
			}
			sizes = append(sizes, batch.Size())
		}

		if len(sizes) != 3 || sizes[2] != 1 {
			t.Errorf("Expected batch sizes [2 2 1], got %v", sizes)
		}
	})

	t.Run("Exhaustion yields nil then Reset rewinds", func(t *testing.T) {
		loader, err := NewDataLoader(sequentialDataset(t, 2, 4), 2, false, 1)
		if err != nil {
			t.Fatalf("NewDataLoader failed: %v", err)
		}

		if batch, _ := loader.Next(); batch == nil {
			t.Fatal("First batch should not be nil")
		}
		if batch, _ := loader.Next(); batch != nil {
			t.Fatal("Expected nil batch at end of epoch")
		}

		loader.Reset()
		if batch, _ := loader.Next(); batch == nil {
			t.Fatal("Expected a batch after Reset")
		}
	})

	t.Run("Shuffle permutes sample order", func(t *testing.T) {
		loader, err := NewDataLoader(sequentialDataset(t, 32, 1), 32, true, 3)
		if err != nil {
			t.Fatalf("NewDataLoader failed: %v", err)
		}
		loader.Reset()

		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}

		pixels := batch.Pixels.Data.([]float32)
		ordered := true
		seen := make(map[float32]bool)
		for i, v := range pixels {
			if v != float32(i) {
				ordered = false
			}
			seen[v] = true
		}
		if ordered {
			t.Error("Shuffled epoch kept the identity order")
		}
		if len(seen) != 32 {
			t.Errorf("Shuffle lost samples: %d unique of 32", len(seen))
		}
	})

	t.Run("Invalid construction rejected", func(t *testing.T) {
		if _, err := NewDataLoader(nil, 2, false, 1); err == nil {
			t.Error("Expected error for nil dataset")
		}
		if _, err := NewDataLoader(sequentialDataset(t, 2, 4), 0, false, 1); err == nil {
			t.Error("Expected error for zero batch size")
		}
	})
}

func TestSimpleDataset(t *testing.T) {
	dataset := sequentialDataset(t, 3, 2)

	if dataset.Len() != 3 {
		t.Errorf("Expected length 3, got %d", dataset.Len())
	}

	_, label, err := dataset.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if label != 1 {
		t.Errorf("Expected label 1, got %d", label)
	}

	if _, _, err := dataset.Get(3); err == nil {
		t.Error("Expected error for out-of-range index")
	}

	if _, err := NewSimpleDataset(nil, []int32{1}); err == nil {
		t.Error("Expected error for mismatched lengths")
	}
}
