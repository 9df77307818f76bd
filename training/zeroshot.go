package training

import (
	"fmt"

	"github.com/tsawler/go-medclip/model"
	"github.com/tsawler/go-medclip/prompts"
)

// ZeroShotClassifier evaluates a model on a labeled split without any
// fine-tuning: the pretrained weights are scored against the task prompts
// as-is.
type ZeroShotClassifier struct {
	model   model.Handle
	builder *prompts.Builder
}

// NewZeroShotClassifier creates a zero-shot evaluation runner
func NewZeroShotClassifier(m model.Handle, builder *prompts.Builder) *ZeroShotClassifier {
	return &ZeroShotClassifier{model: m, builder: builder}
}

// Run evaluates the model over the given sweeps and returns the pooled
// classification metrics
func (z *ZeroShotClassifier) Run(sweeps []Sweep) (*EvalResult, error) {
	z.model.Eval()

	evaluator := NewEvaluator(z.model, z.builder)
	result, err := evaluator.Evaluate(sweeps)
	if err != nil {
		return nil, fmt.Errorf("zero-shot evaluation failed: %v", err)
	}

	fmt.Printf("Zero-shot - Accuracy: %.4f, Precision: %.4f, Recall: %.4f, AUC: %.4f\n",
		result.Accuracy, result.Precision, result.Recall, result.AUC)

	return result, nil
}
