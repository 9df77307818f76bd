package training

import (
	"fmt"
	"os"
	"path/filepath"
)

// SaveResults writes the final classification metrics under the result
// layout for one medical type and returns the file path. The write goes
// through a temp file and atomic rename.
func SaveResults(root, medicalType string, result *EvalResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("no result to save")
	}

	dir := filepath.Join(root, "results", "finetune", medicalType, "clip")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %v", err)
	}

	content := fmt.Sprintf(
		"Accuracy: %.4f\nPrecision: %.4f\nRecall: %.4f\nAUC: %.4f\n\nClassification Report\n\n%s\n\nConfusion Matrix\n\n%s\n",
		result.Accuracy, result.Precision, result.Recall, result.AUC,
		result.Report, result.Confusion)

	path := filepath.Join(dir, "classification_results.txt")

	tmp, err := os.CreateTemp(dir, "classification_results.txt.tmp*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp results file: %v", err)
	}

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write results: %v", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp results file: %v", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move results into place: %v", err)
	}

	return path, nil
}
