package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-medclip/checkpoints"
	"github.com/tsawler/go-medclip/model"
	"github.com/tsawler/go-medclip/prompts"
)

// MetricKeys is the fixed set of per-epoch series the trainer records, in
// presentation order.
var MetricKeys = []string{
	"train_loss", "val_loss",
	"train_accuracy", "val_accuracy",
	"train_precision", "val_precision",
	"train_recall", "val_recall",
	"train_auc", "val_auc",
}

// MetricHistory holds the per-epoch metric series. All series always have
// the same length: one entry per completed epoch.
type MetricHistory struct {
	series map[string][]float64
}

// NewMetricHistory creates an empty history with all series present
func NewMetricHistory() *MetricHistory {
	series := make(map[string][]float64, len(MetricKeys))
	for _, key := range MetricKeys {
		series[key] = nil
	}
	return &MetricHistory{series: series}
}

// Append records one epoch of metrics. The value map must cover every
// metric key so the series stay aligned.
func (mh *MetricHistory) Append(values map[string]float64) error {
	if len(values) != len(MetricKeys) {
		return fmt.Errorf("expected %d metric values, got %d", len(MetricKeys), len(values))
	}
	for _, key := range MetricKeys {
		if _, ok := values[key]; !ok {
			return fmt.Errorf("missing metric %q", key)
		}
	}
	for _, key := range MetricKeys {
		mh.series[key] = append(mh.series[key], values[key])
	}
	return nil
}

// Series returns the recorded values for one metric key
func (mh *MetricHistory) Series(key string) []float64 {
	return mh.series[key]
}

// Len returns the number of recorded epochs
func (mh *MetricHistory) Len() int {
	return len(mh.series[MetricKeys[0]])
}

// EpochHook runs after each epoch's metrics are recorded
type EpochHook interface {
	AfterEpoch(epoch int, history *MetricHistory) error
}

// Config holds the training run parameters
type Config struct {
	Epochs       int
	Patience     int // epochs without validation improvement before stopping
	TrainSteps   int // batches per training epoch
	ValSteps     int // batches per validation epoch
	LearningRate float64
}

// Trainer drives the fine-tuning loop: a training pass, a validation pass,
// metric evaluation over both splits, checkpointing on validation
// improvement, and early stopping when the validation loss stalls.
type Trainer struct {
	model     model.Handle
	optimizer Optimizer
	builder   *prompts.Builder
	criterion *ContrastiveLoss
	store     checkpoints.Store
	hooks     []EpochHook
	config    Config

	history         *MetricHistory
	bestValLoss     float64
	patienceCounter int
	earlyStopped    bool
}

// NewTrainer creates a trainer
func NewTrainer(m model.Handle, optimizer Optimizer, builder *prompts.Builder, store checkpoints.Store, config Config, hooks ...EpochHook) (*Trainer, error) {
	if m == nil || optimizer == nil || builder == nil || store == nil {
		return nil, fmt.Errorf("trainer requires a model, optimizer, prompt builder, and checkpoint store")
	}
	if config.Epochs < 1 {
		return nil, fmt.Errorf("epochs must be at least 1, got %d", config.Epochs)
	}
	if config.Patience < 1 {
		return nil, fmt.Errorf("patience must be at least 1, got %d", config.Patience)
	}
	if config.TrainSteps < 1 || config.ValSteps < 1 {
		return nil, fmt.Errorf("step counts must be at least 1, got train=%d val=%d", config.TrainSteps, config.ValSteps)
	}

	return &Trainer{
		model:       m,
		optimizer:   optimizer,
		builder:     builder,
		criterion:   NewContrastiveLoss(),
		store:       store,
		hooks:       hooks,
		config:      config,
		history:     NewMetricHistory(),
		bestValLoss: math.Inf(1),
	}, nil
}

// History returns the recorded per-epoch metrics
func (t *Trainer) History() *MetricHistory {
	return t.history
}

// EarlyStopped reports whether the run ended before the epoch budget
func (t *Trainer) EarlyStopped() bool {
	return t.earlyStopped
}

// BestValLoss returns the lowest validation loss seen so far
func (t *Trainer) BestValLoss() float64 {
	return t.bestValLoss
}

// Run executes the training loop and leaves the model holding the weights
// of its best validation epoch.
func (t *Trainer) Run(train, validation DataSource) error {
	evaluator := NewEvaluator(t.model, t.builder)

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		trainLoss, err := t.trainEpoch(train)
		if err != nil {
			return fmt.Errorf("training epoch %d failed: %v", epoch+1, err)
		}
		train.Reset()

		valLoss, err := t.validationEpoch(validation)
		if err != nil {
			return fmt.Errorf("validation epoch %d failed: %v", epoch+1, err)
		}
		validation.Reset()

		trainResult, err := evaluator.Evaluate([]Sweep{{Name: "Train", Source: train, Steps: t.config.TrainSteps}})
		if err != nil {
			return fmt.Errorf("train evaluation for epoch %d failed: %v", epoch+1, err)
		}

		valResult, err := evaluator.Evaluate([]Sweep{{Name: "Validation", Source: validation, Steps: t.config.ValSteps}})
		if err != nil {
			return fmt.Errorf("validation evaluation for epoch %d failed: %v", epoch+1, err)
		}

		err = t.history.Append(map[string]float64{
			"train_loss":      trainLoss,
			"val_loss":        valLoss,
			"train_accuracy":  trainResult.Accuracy,
			"val_accuracy":    valResult.Accuracy,
			"train_precision": trainResult.Precision,
			"val_precision":   valResult.Precision,
			"train_recall":    trainResult.Recall,
			"val_recall":      valResult.Recall,
			"train_auc":       trainResult.AUC,
			"val_auc":         valResult.AUC,
		})
		if err != nil {
			return fmt.Errorf("metric recording for epoch %d failed: %v", epoch+1, err)
		}

		for _, hook := range t.hooks {
			if err := hook.AfterEpoch(epoch, t.history); err != nil {
				return fmt.Errorf("epoch hook failed for epoch %d: %v", epoch+1, err)
			}
		}

		fmt.Printf("Epoch %d/%d - Train Loss: %.4f, Val Loss: %.4f, Val Accuracy: %.4f, Val AUC: %.4f\n",
			epoch+1, t.config.Epochs, trainLoss, valLoss, valResult.Accuracy, valResult.AUC)

		if valLoss < t.bestValLoss {
			t.bestValLoss = valLoss
			t.patienceCounter = 0
			if err := t.saveCheckpoint(epoch); err != nil {
				return fmt.Errorf("checkpoint save for epoch %d failed: %v", epoch+1, err)
			}
			fmt.Printf("Validation loss improved, checkpoint saved.\n")
		} else {
			t.patienceCounter++
			if t.patienceCounter >= t.config.Patience {
				t.earlyStopped = true
				fmt.Printf("Early stopping after %d epochs without improvement.\n", t.patienceCounter)
				break
			}
		}
	}

	// The final weights come from the best validation epoch, not the last
	return t.loadBestCheckpoint()
}

// trainEpoch runs the configured number of optimization steps and returns
// the mean batch loss
func (t *Trainer) trainEpoch(source DataSource) (float64, error) {
	t.model.Train()

	losses := make([]float64, 0, t.config.TrainSteps)
	for step := 0; step < t.config.TrainSteps; step++ {
		batch, err := source.Next()
		if err != nil {
			return 0, fmt.Errorf("step %d batch load failed: %v", step, err)
		}
		if batch == nil {
			return 0, fmt.Errorf("training data exhausted after %d of %d steps", step, t.config.TrainSteps)
		}

		loss, err := t.trainStep(batch)
		if err != nil {
			return 0, fmt.Errorf("step %d failed: %v", step, err)
		}
		losses = append(losses, loss)
	}

	return stat.Mean(losses, nil), nil
}

// trainStep runs one forward/backward/update cycle on a batch
func (t *Trainer) trainStep(batch *Batch) (float64, error) {
	labels, err := prompts.LabelsFromTensor(batch.Labels)
	if err != nil {
		return 0, fmt.Errorf("label access failed: %v", err)
	}

	set, err := t.builder.BuildForLabels(labels)
	if err != nil {
		return 0, fmt.Errorf("prompt construction failed: %v", err)
	}

	t.optimizer.ZeroGrad()

	output, err := t.model.Forward(batch.Pixels, set)
	if err != nil {
		return 0, fmt.Errorf("forward pass failed: %v", err)
	}

	loss, err := t.criterion.Forward(output)
	if err != nil {
		return 0, fmt.Errorf("loss computation failed: %v", err)
	}

	gradLogits, err := t.criterion.Backward(output)
	if err != nil {
		return 0, fmt.Errorf("loss gradient failed: %v", err)
	}

	if err := t.model.Backward(gradLogits); err != nil {
		return 0, fmt.Errorf("backward pass failed: %v", err)
	}

	// The optimizer sees full-precision parameters even on half-precision
	// devices
	if err := t.model.PrecisionCycle(t.optimizer.Step); err != nil {
		return 0, fmt.Errorf("optimizer step failed: %v", err)
	}

	return loss, nil
}

// validationEpoch computes the mean contrastive loss over the validation
// split without touching gradients
func (t *Trainer) validationEpoch(source DataSource) (float64, error) {
	t.model.Eval()

	losses := make([]float64, 0, t.config.ValSteps)
	for step := 0; step < t.config.ValSteps; step++ {
		batch, err := source.Next()
		if err != nil {
			return 0, fmt.Errorf("step %d batch load failed: %v", step, err)
		}
		if batch == nil {
			return 0, fmt.Errorf("validation data exhausted after %d of %d steps", step, t.config.ValSteps)
		}

		labels, err := prompts.LabelsFromTensor(batch.Labels)
		if err != nil {
			return 0, fmt.Errorf("step %d label access failed: %v", step, err)
		}

		set, err := t.builder.BuildForLabels(labels)
		if err != nil {
			return 0, fmt.Errorf("step %d prompt construction failed: %v", step, err)
		}

		output, err := t.model.Forward(batch.Pixels, set)
		if err != nil {
			return 0, fmt.Errorf("step %d forward pass failed: %v", step, err)
		}

		loss, err := t.criterion.Forward(output)
		if err != nil {
			return 0, fmt.Errorf("step %d loss computation failed: %v", step, err)
		}
		losses = append(losses, loss)
	}

	return stat.Mean(losses, nil), nil
}

// saveCheckpoint captures the current weights and training state
func (t *Trainer) saveCheckpoint(epoch int) error {
	weights, err := checkpoints.CaptureWeights(t.model.Parameters())
	if err != nil {
		return fmt.Errorf("weight capture failed: %v", err)
	}

	checkpoint := &checkpoints.Checkpoint{
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			BestValLoss:  t.bestValLoss,
			LearningRate: t.config.LearningRate,
		},
	}

	return t.store.Save(checkpoint)
}

// loadBestCheckpoint restores the weights from the best validation epoch
func (t *Trainer) loadBestCheckpoint() error {
	checkpoint, err := t.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load best checkpoint: %v", err)
	}

	if err := checkpoints.RestoreWeights(checkpoint.Weights, t.model.Parameters()); err != nil {
		return fmt.Errorf("failed to restore best weights: %v", err)
	}

	return nil
}
