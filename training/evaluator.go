package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-medclip/model"
	"github.com/tsawler/go-medclip/prompts"
	"github.com/tsawler/go-medclip/tensor"
)

// Sweep names a batch source and the number of batches to draw from it
type Sweep struct {
	Name   string
	Source DataSource
	Steps  int
}

// EvalResult holds the classification metrics for one evaluation pass
type EvalResult struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	AUC       float64
	Report    string
	Confusion *ConfusionMatrix
}

// Evaluator scores image batches against the positive-class prompt and
// accumulates binary classification metrics
type Evaluator struct {
	model   model.Handle
	builder *prompts.Builder
}

// NewEvaluator creates an evaluator for the given model and prompt builder
func NewEvaluator(m model.Handle, builder *prompts.Builder) *Evaluator {
	return &Evaluator{model: m, builder: builder}
}

// Classify scores a pixel batch against the given prompt set. The score of
// each example is the sigmoid of its mean prompt similarity, and the
// predicted label is the rounded score, so predictions flip where the raw
// similarity crosses zero.
func (e *Evaluator) Classify(pixels *tensor.Tensor, set *prompts.Set) ([]float64, []int32, error) {
	output, err := e.model.Forward(pixels, set)
	if err != nil {
		return nil, nil, fmt.Errorf("classification forward pass failed: %v", err)
	}

	logits, err := output.LogitsPerImage.Float32Slice()
	if err != nil {
		return nil, nil, fmt.Errorf("logit access failed: %v", err)
	}

	batch := output.LogitsPerImage.Shape[0]
	numPrompts := output.LogitsPerImage.Shape[1]

	scores := make([]float64, batch)
	predictions := make([]int32, batch)
	for b := 0; b < batch; b++ {
		var sum float64
		for n := 0; n < numPrompts; n++ {
			sum += float64(logits[b*numPrompts+n])
		}
		scores[b] = sigmoid(sum / float64(numPrompts))
		if scores[b] >= 0.5 {
			predictions[b] = 1
		}
	}

	return scores, predictions, nil
}

// Evaluate runs the model in inference mode over the given sweeps and
// returns the pooled classification metrics. Each source is reset after
// its sweep so the caller can reuse it.
func (e *Evaluator) Evaluate(sweeps []Sweep) (*EvalResult, error) {
	if len(sweeps) == 0 {
		return nil, fmt.Errorf("no sweeps to evaluate")
	}

	wasTraining := e.model.IsTraining()
	e.model.Eval()
	defer func() {
		if wasTraining {
			e.model.Train()
		}
	}()

	set, err := e.builder.TaskPrompts()
	if err != nil {
		return nil, fmt.Errorf("failed to build task prompts: %v", err)
	}

	cm := NewConfusionMatrix()
	var allScores []float64
	var allLabels []int32

	for _, sweep := range sweeps {
		for step := 0; step < sweep.Steps; step++ {
			batch, err := sweep.Source.Next()
			if err != nil {
				return nil, fmt.Errorf("%s sweep failed at step %d: %v", sweep.Name, step, err)
			}
			if batch == nil {
				return nil, fmt.Errorf("%s sweep exhausted after %d of %d steps", sweep.Name, step, sweep.Steps)
			}

			labels, err := batch.Labels.Int32Slice()
			if err != nil {
				return nil, fmt.Errorf("%s sweep label access failed: %v", sweep.Name, err)
			}

			scores, predictions, err := e.Classify(batch.Pixels, set)
			if err != nil {
				return nil, fmt.Errorf("%s sweep classification failed: %v", sweep.Name, err)
			}

			for i := range labels {
				if err := cm.Update(labels[i], predictions[i]); err != nil {
					return nil, fmt.Errorf("%s sweep metric update failed: %v", sweep.Name, err)
				}
			}
			allScores = append(allScores, scores...)
			allLabels = append(allLabels, labels...)
		}
		sweep.Source.Reset()
	}

	auc, err := AUCROC(allScores, allLabels)
	if err != nil {
		return nil, err
	}

	return &EvalResult{
		Accuracy:  cm.Accuracy(),
		Precision: cm.Precision(),
		Recall:    cm.Recall(),
		AUC:       auc,
		Report:    cm.ClassificationReport(e.builder.Categories()),
		Confusion: cm,
	}, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
