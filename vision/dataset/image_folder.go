package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tsawler/go-medclip/tensor"
	"github.com/tsawler/go-medclip/vision/preprocessing"
)

// imageExtensions lists the file types picked up by the folder scan
var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFolderDataset loads labeled images from a directory structure where
// each class has its own subdirectory. The class list fixes the label
// mapping: label value equals class index, independent of directory order.
type ImageFolderDataset struct {
	imagePaths   []string
	labels       []int32
	classNames   []string
	preprocessor *preprocessing.Preprocessor
}

// NewImageFolderDataset scans root for the given class subdirectories.
// Every class directory must exist and contribute at least one image.
func NewImageFolderDataset(root string, classes []string, preprocessor *preprocessing.Preprocessor) (*ImageFolderDataset, error) {
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	if preprocessor == nil {
		return nil, fmt.Errorf("preprocessor must not be nil")
	}

	dataset := &ImageFolderDataset{
		classNames:   append([]string(nil), classes...),
		preprocessor: preprocessor,
	}

	for classIdx, className := range classes {
		classPath := filepath.Join(root, className)
		info, err := os.Stat(classPath)
		if err != nil {
			return nil, fmt.Errorf("class directory %s missing: %v", classPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", classPath)
		}

		entries, err := os.ReadDir(classPath)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %v", classPath, err)
		}

		found := 0
		for _, entry := range entries {
			if entry.IsDir() || !hasImageExtension(entry.Name()) {
				continue
			}
			dataset.imagePaths = append(dataset.imagePaths, filepath.Join(classPath, entry.Name()))
			dataset.labels = append(dataset.labels, int32(classIdx))
			found++
		}

		if found == 0 {
			return nil, fmt.Errorf("no images found for class %s in %s", className, classPath)
		}
	}

	return dataset, nil
}

// hasImageExtension reports whether the filename has a recognized image
// extension
func hasImageExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, known := range imageExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

// Len returns the number of samples in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// Get loads and preprocesses the sample at the given index
func (d *ImageFolderDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if idx < 0 || idx >= len(d.imagePaths) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.imagePaths))
	}

	pixels, err := d.preprocessor.FromFile(d.imagePaths[idx])
	if err != nil {
		return nil, 0, err
	}

	return pixels, d.labels[idx], nil
}

// ClassNames returns the ordered class list
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the sample count per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}
