package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-medclip/tensor"
)

// Checkpoint is a persisted snapshot of model state plus training metadata
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// WeightTensor holds one parameter tensor. Data is always serialized in
// full precision regardless of the live precision mode.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures training progress at snapshot time
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	BestValLoss  float64 `json:"best_val_loss"`
	LearningRate float64 `json:"learning_rate"`
}

// Metadata contains checkpoint provenance
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Store abstracts checkpoint persistence so the training orchestrator has
// no direct filesystem dependency
type Store interface {
	Save(checkpoint *Checkpoint) error
	Load() (*Checkpoint, error)
}

// CaptureWeights snapshots parameter tensors into serializable form,
// decoding half-precision payloads to full precision
func CaptureWeights(params []*tensor.Tensor) ([]WeightTensor, error) {
	weights := make([]WeightTensor, 0, len(params))

	for i, param := range params {
		values, err := param.Float32Slice()
		if err != nil {
			return nil, fmt.Errorf("failed to extract parameter %d: %v", i, err)
		}

		data := make([]float32, len(values))
		copy(data, values)

		shape := make([]int, len(param.Shape))
		copy(shape, param.Shape)

		weights = append(weights, WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: shape,
			Data:  data,
		})
	}

	return weights, nil
}

// RestoreWeights loads snapshot data back into parameter tensors, encoding
// to each tensor's current precision
func RestoreWeights(weights []WeightTensor, params []*tensor.Tensor) error {
	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d weights, %d parameters", len(weights), len(params))
	}

	for i, weight := range weights {
		param := params[i]

		if len(weight.Shape) != len(param.Shape) {
			return fmt.Errorf("shape mismatch for %s: checkpoint %v vs parameter %v", weight.Name, weight.Shape, param.Shape)
		}
		for j, dim := range weight.Shape {
			if dim != param.Shape[j] {
				return fmt.Errorf("dimension mismatch for %s at index %d: checkpoint %d vs parameter %d", weight.Name, j, dim, param.Shape[j])
			}
		}

		if err := param.SetFloat32(weight.Data); err != nil {
			return fmt.Errorf("failed to restore %s: %v", weight.Name, err)
		}
	}

	return nil
}

// WriteFile serializes a checkpoint to the given path using a scoped temp
// file and atomic rename, so an interrupted write never leaves a corrupt
// artifact behind
func WriteFile(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-medclip"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %v", err)
	}

	encoder := json.NewEncoder(tmp)
	if err := encoder.Encode(checkpoint); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp checkpoint file: %v", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move checkpoint into place: %v", err)
	}

	return nil
}

// ReadFile deserializes a checkpoint from the given path
func ReadFile(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// FileStore persists the best-model checkpoint under the result layout for
// one medical type: results/finetune/{medicalType}/medclip/best_model.pth,
// with a duplicate copy at {root}/best_model.pth
type FileStore struct {
	Root        string
	MedicalType string
}

// NewFileStore creates a file-backed checkpoint store rooted at the given
// directory
func NewFileStore(root, medicalType string) *FileStore {
	return &FileStore{Root: root, MedicalType: medicalType}
}

// Path returns the primary checkpoint location
func (fs *FileStore) Path() string {
	return filepath.Join(fs.Root, "results", "finetune", fs.MedicalType, "medclip", "best_model.pth")
}

func (fs *FileStore) duplicatePath() string {
	return filepath.Join(fs.Root, "best_model.pth")
}

// Save writes the checkpoint to both locations
func (fs *FileStore) Save(checkpoint *Checkpoint) error {
	if err := WriteFile(checkpoint, fs.Path()); err != nil {
		return err
	}
	return WriteFile(checkpoint, fs.duplicatePath())
}

// Load reads the checkpoint from the primary location
func (fs *FileStore) Load() (*Checkpoint, error) {
	return ReadFile(fs.Path())
}

// MemoryStore keeps checkpoints in memory. Intended for tests and for
// callers that do not want filesystem artifacts.
type MemoryStore struct {
	checkpoint *Checkpoint
	SaveCount  int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a deep copy of the checkpoint
func (ms *MemoryStore) Save(checkpoint *Checkpoint) error {
	encoded, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to copy checkpoint: %v", err)
	}

	var copied Checkpoint
	if err := json.Unmarshal(encoded, &copied); err != nil {
		return fmt.Errorf("failed to copy checkpoint: %v", err)
	}

	ms.checkpoint = &copied
	ms.SaveCount++
	return nil
}

// Load returns the stored checkpoint
func (ms *MemoryStore) Load() (*Checkpoint, error) {
	if ms.checkpoint == nil {
		return nil, fmt.Errorf("no checkpoint saved")
	}
	return ms.checkpoint, nil
}
