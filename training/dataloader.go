package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-medclip/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                // Total number of samples
	Get(idx int) (pixels *tensor.Tensor, label int32, err error) // Returns a single sample
}

// Batch represents a batch of pixel data and class labels
type Batch struct {
	Pixels *tensor.Tensor // [batch, pixelDim] Float32
	Labels *tensor.Tensor // [batch] Int32
}

// Size returns the number of examples in the batch
func (b *Batch) Size() int {
	return b.Pixels.Shape[0]
}

// DataSource is the batch stream the trainer and evaluator consume
type DataSource interface {
	Next() (*Batch, error) // nil batch signals end of epoch
	Reset()
}

// DataLoader provides batching and shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset must not be nil")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling when enabled
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := dl.rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch or nil if the epoch is complete. The final
// batch of an epoch may be smaller than the configured batch size.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}

	return batch, nil
}

// loadBatch loads the indexed samples and stacks them into batched tensors
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	first, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}

	batchSize := len(indices)
	pixelShape := append([]int{batchSize}, first.Shape...)

	pixels, err := tensor.Zeros(pixelShape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch pixel tensor: %v", err)
	}
	pixelData := pixels.Data.([]float32)

	labelData := make([]int32, batchSize)
	labelData[0] = firstLabel

	sampleSize := first.NumElems
	if err := dl.copyInto(pixelData, first, 0, sampleSize); err != nil {
		return nil, fmt.Errorf("failed to copy sample %d: %v", indices[0], err)
	}

	for i, idx := range indices[1:] {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if err := dl.copyInto(pixelData, sample, i+1, sampleSize); err != nil {
			return nil, fmt.Errorf("failed to copy sample %d: %v", idx, err)
		}
		labelData[i+1] = label
	}

	labels, err := tensor.NewTensor([]int{batchSize}, tensor.Int32, tensor.CPU, labelData)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch label tensor: %v", err)
	}

	return &Batch{Pixels: pixels, Labels: labels}, nil
}

// copyInto copies one sample into its row of the flat batch payload
func (dl *DataLoader) copyInto(batchData []float32, sample *tensor.Tensor, batchIndex, sampleSize int) error {
	if sample.NumElems != sampleSize {
		return fmt.Errorf("sample size mismatch: expected %d elements, got %d", sampleSize, sample.NumElems)
	}

	sampleData, err := sample.Float32Slice()
	if err != nil {
		return fmt.Errorf("sample payload access failed: %v", err)
	}

	offset := batchIndex * sampleSize
	copy(batchData[offset:offset+sampleSize], sampleData)
	return nil
}

// SimpleDataset provides a basic in-memory Dataset for tests and small runs
type SimpleDataset struct {
	pixels []*tensor.Tensor
	labels []int32
}

// NewSimpleDataset creates a new SimpleDataset
func NewSimpleDataset(pixels []*tensor.Tensor, labels []int32) (*SimpleDataset, error) {
	if len(pixels) != len(labels) {
		return nil, fmt.Errorf("pixels and labels must have the same length: got %d and %d", len(pixels), len(labels))
	}

	return &SimpleDataset{
		pixels: pixels,
		labels: labels,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *SimpleDataset) Len() int {
	return len(ds.pixels)
}

// Get returns the sample at the given index
func (ds *SimpleDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if idx < 0 || idx >= len(ds.pixels) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.pixels))
	}

	return ds.pixels[idx], ds.labels[idx], nil
}
