package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-medclip/model"
	"github.com/tsawler/go-medclip/tensor"
)

// ContrastiveLoss is the symmetric image-text matching objective. With a
// batch of B co-indexed image/caption pairs the ground truth for both
// logit directions is the index vector [0..B-1]: each image must match its
// own caption and each caption its own image. The loss is the mean of the
// two cross-entropy directions.
type ContrastiveLoss struct{}

// NewContrastiveLoss creates the contrastive objective
func NewContrastiveLoss() *ContrastiveLoss {
	return &ContrastiveLoss{}
}

// Forward computes the scalar loss for the paired logit matrices. Both
// matrices must be square [B, B] with B >= 2: a single-example batch has no
// negatives and carries no contrastive signal.
func (cl *ContrastiveLoss) Forward(output *model.Output) (float64, error) {
	imgRows, txtRows, err := cl.checkShapes(output)
	if err != nil {
		return 0, err
	}

	lossImg := crossEntropyDiagonal(imgRows)
	lossTxt := crossEntropyDiagonal(txtRows)

	return (lossImg + lossTxt) / 2.0, nil
}

// Backward returns the gradient of the loss with respect to the image
// logits [B, B]. The text direction contributes through the transpose,
// since the text logit matrix is the exact transpose of the image one.
func (cl *ContrastiveLoss) Backward(output *model.Output) (*tensor.Tensor, error) {
	imgRows, txtRows, err := cl.checkShapes(output)
	if err != nil {
		return nil, err
	}

	batch := len(imgRows)
	scale := 1.0 / (2.0 * float64(batch)) // mean of two directions, mean over rows

	grad := make([]float32, batch*batch)

	// Image direction: dL/dlogits = (softmax(row) - onehot(row index)) / (2B)
	for b, row := range imgRows {
		probs := softmax(row)
		for n := 0; n < batch; n++ {
			g := probs[n]
			if n == b {
				g -= 1.0
			}
			grad[b*batch+n] += float32(g * scale)
		}
	}

	// Text direction: same form on the transposed matrix, folded back
	for n, row := range txtRows {
		probs := softmax(row)
		for b := 0; b < batch; b++ {
			g := probs[b]
			if b == n {
				g -= 1.0
			}
			grad[b*batch+n] += float32(g * scale)
		}
	}

	return tensor.NewTensor([]int{batch, batch}, tensor.Float32, tensor.CPU, grad)
}

// checkShapes validates the output pair and splits both matrices into rows
func (cl *ContrastiveLoss) checkShapes(output *model.Output) ([][]float64, [][]float64, error) {
	if output == nil || output.LogitsPerImage == nil || output.LogitsPerText == nil {
		return nil, nil, fmt.Errorf("contrastive loss requires both logit directions")
	}

	img := output.LogitsPerImage
	txt := output.LogitsPerText
	if len(img.Shape) != 2 || img.Shape[0] != img.Shape[1] {
		return nil, nil, fmt.Errorf("contrastive loss requires square image logits, got %v", img.Shape)
	}
	if len(txt.Shape) != 2 || txt.Shape[0] != img.Shape[0] || txt.Shape[1] != img.Shape[1] {
		return nil, nil, fmt.Errorf("text logits %v do not pair with image logits %v", txt.Shape, img.Shape)
	}

	batch := img.Shape[0]
	if batch < 2 {
		return nil, nil, fmt.Errorf("contrastive loss needs at least 2 examples, got %d", batch)
	}

	imgRows, err := matrixRows(img, batch)
	if err != nil {
		return nil, nil, fmt.Errorf("image logits access failed: %v", err)
	}
	txtRows, err := matrixRows(txt, batch)
	if err != nil {
		return nil, nil, fmt.Errorf("text logits access failed: %v", err)
	}

	return imgRows, txtRows, nil
}

// crossEntropyDiagonal is the mean cross-entropy of each row against its
// own row index
func crossEntropyDiagonal(rows [][]float64) float64 {
	var total float64
	for i, row := range rows {
		probs := softmax(row)
		total += -math.Log(math.Max(probs[i], 1e-12))
	}
	return total / float64(len(rows))
}

// softmax computes a numerically stable softmax over one row
func softmax(row []float64) []float64 {
	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	probs := make([]float64, len(row))
	var sum float64
	for i, v := range row {
		probs[i] = math.Exp(v - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// matrixRows splits a [rows, cols] tensor into float64 row slices
func matrixRows(t *tensor.Tensor, rows int) ([][]float64, error) {
	data, err := t.Float32Slice()
	if err != nil {
		return nil, err
	}

	cols := t.NumElems / rows
	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		row := make([]float64, cols)
		for c := 0; c < cols; c++ {
			row[c] = float64(data[r*cols+c])
		}
		out[r] = row
	}
	return out, nil
}
