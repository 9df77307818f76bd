package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-medclip/tensor"
)

func makeParams(t *testing.T) []*tensor.Tensor {
	t.Helper()

	w, err := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Failed to create weight tensor: %v", err)
	}
	b, err := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{0.5, -0.5})
	if err != nil {
		t.Fatalf("Failed to create bias tensor: %v", err)
	}
	return []*tensor.Tensor{w, b}
}

func TestCaptureAndRestoreWeights(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		params := makeParams(t)

		weights, err := CaptureWeights(params)
		if err != nil {
			t.Fatalf("CaptureWeights failed: %v", err)
		}

		if len(weights) != 2 {
			t.Fatalf("Expected 2 weight tensors, got %d", len(weights))
		}

		// Mutate parameters, then restore the snapshot
		params[0].SetFloat32([]float32{9, 9, 9, 9})
		params[1].SetFloat32([]float32{9, 9})

		if err := RestoreWeights(weights, params); err != nil {
			t.Fatalf("RestoreWeights failed: %v", err)
		}

		data := params[0].Data.([]float32)
		expected := []float32{1, 2, 3, 4}
		for i, want := range expected {
			if data[i] != want {
				t.Errorf("Element %d: expected %.1f, got %.1f", i, want, data[i])
			}
		}
	})

	t.Run("Restore into half precision parameter", func(t *testing.T) {
		params := makeParams(t)

		weights, err := CaptureWeights(params)
		if err != nil {
			t.Fatalf("CaptureWeights failed: %v", err)
		}

		for _, p := range params {
			if err := p.ToHalf(); err != nil {
				t.Fatalf("ToHalf failed: %v", err)
			}
		}

		if err := RestoreWeights(weights, params); err != nil {
			t.Fatalf("RestoreWeights into Float16 failed: %v", err)
		}

		if params[0].DType != tensor.Float16 {
			t.Errorf("Restore should preserve the live precision mode, got %s", params[0].DType)
		}

		decoded, err := params[0].Float32Slice()
		if err != nil {
			t.Fatalf("Float32Slice failed: %v", err)
		}
		if decoded[0] != 1 || decoded[3] != 4 {
			t.Errorf("Unexpected restored values: %v", decoded)
		}
	})

	t.Run("Count mismatch rejected", func(t *testing.T) {
		params := makeParams(t)
		weights, _ := CaptureWeights(params)

		if err := RestoreWeights(weights[:1], params); err == nil {
			t.Error("Expected error for weight count mismatch")
		}
	})

	t.Run("Shape mismatch rejected", func(t *testing.T) {
		params := makeParams(t)
		weights, _ := CaptureWeights(params)
		weights[0].Shape = []int{4, 1}

		if err := RestoreWeights(weights, params); err == nil {
			t.Error("Expected error for shape mismatch")
		}
	})
}

func TestFileStore(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, "ucsd")

	params := makeParams(t)
	weights, err := CaptureWeights(params)
	if err != nil {
		t.Fatalf("CaptureWeights failed: %v", err)
	}

	checkpoint := &Checkpoint{
		Weights:       weights,
		TrainingState: TrainingState{Epoch: 3, BestValLoss: 0.42},
	}

	if err := store.Save(checkpoint); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Primary and duplicate locations both exist
	primary := filepath.Join(root, "results", "finetune", "ucsd", "medclip", "best_model.pth")
	if _, err := os.Stat(primary); err != nil {
		t.Errorf("Primary checkpoint missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "best_model.pth")); err != nil {
		t.Errorf("Duplicate checkpoint missing: %v", err)
	}

	// No stray temp files left behind
	entries, err := os.ReadDir(filepath.Dir(primary))
	if err != nil {
		t.Fatalf("Failed to list checkpoint directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected exactly one file in checkpoint directory, found %d", len(entries))
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.TrainingState.Epoch != 3 {
		t.Errorf("Expected epoch 3 in training state, got %d", loaded.TrainingState.Epoch)
	}
	if len(loaded.Weights) != 2 {
		t.Errorf("Expected 2 weight tensors, got %d", len(loaded.Weights))
	}
	if loaded.Metadata.Framework != "go-medclip" {
		t.Errorf("Expected framework metadata to be set, got %q", loaded.Metadata.Framework)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Load(); err == nil {
		t.Error("Expected error loading from empty store")
	}

	checkpoint := &Checkpoint{TrainingState: TrainingState{Epoch: 1}}
	if err := store.Save(checkpoint); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the original must not affect the stored copy
	checkpoint.TrainingState.Epoch = 99

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.TrainingState.Epoch != 1 {
		t.Errorf("Expected stored epoch 1, got %d", loaded.TrainingState.Epoch)
	}

	if store.SaveCount != 1 {
		t.Errorf("Expected save count 1, got %d", store.SaveCount)
	}
}
