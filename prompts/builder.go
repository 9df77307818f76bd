package prompts

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-medclip/tensor"
)

// Attribute fragments for randomized caption sampling. Loosely modeled on
// the class prompt generators used by medical CLIP variants: a severity
// qualifier, the class name, and an anatomical location.
var (
	severityPhrases = []string{
		"", "mild", "moderate", "severe", "subtle", "extensive",
	}
	locationPhrases = []string{
		"", "in the lower lobes", "in the upper lobes", "in both lungs",
		"at the lung periphery", "near the hilum",
	}
)

// Builder converts label batches and a category vocabulary into tokenized
// prompt sets for one named task
type Builder struct {
	task       string
	categories []string
	policy     Policy
	tokenizer  *Tokenizer
	rng        *rand.Rand

	// pools holds the sampled caption candidates per class under the
	// randomized policy, generated once at construction
	pools [][]string
}

// NewBuilder creates a prompt builder. The category vocabulary is ordered:
// index equals label value.
func NewBuilder(task string, categories []string, policy Policy, tokenizer *Tokenizer, seed int64) (*Builder, error) {
	if task == "" {
		return nil, fmt.Errorf("task name must not be empty")
	}
	if len(categories) < 2 {
		return nil, fmt.Errorf("category vocabulary needs at least 2 entries, got %d", len(categories))
	}
	if tokenizer == nil {
		return nil, fmt.Errorf("tokenizer must not be nil")
	}

	categoriesCopy := make([]string, len(categories))
	copy(categoriesCopy, categories)

	b := &Builder{
		task:       task,
		categories: categoriesCopy,
		policy:     policy,
		tokenizer:  tokenizer,
		rng:        rand.New(rand.NewSource(seed)),
	}

	if policy.IsRandomized() {
		b.pools = make([][]string, len(categoriesCopy))
		for i, category := range categoriesCopy {
			pool := make([]string, policy.CaptionsPerClass())
			for j := range pool {
				pool[j] = b.sampleCaption(category)
			}
			b.pools[i] = pool
		}
	}

	return b, nil
}

// Task returns the task name prompts are grouped under
func (b *Builder) Task() string {
	return b.task
}

// Categories returns the ordered category vocabulary
func (b *Builder) Categories() []string {
	return b.categories
}

// Policy returns the builder's caption policy
func (b *Builder) Policy() Policy {
	return b.policy
}

// fixedCaption is the deterministic per-class caption
func (b *Builder) fixedCaption(category string) string {
	return fmt.Sprintf("a photo of %s lungs.", category)
}

// BuildForLabels produces the training prompt set for a label batch: one
// caption per label, co-indexed with the image batch. The fixed policy
// emits the deterministic class caption; the randomized policy draws each
// caption from the class's sampled pool, so the set batch dimension always
// equals the image batch size either way.
func (b *Builder) BuildForLabels(labels []int32) (*Set, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("label batch must not be empty")
	}

	for i, label := range labels {
		if label < 0 || int(label) >= len(b.categories) {
			return nil, fmt.Errorf("label %d at position %d outside category vocabulary [0, %d)", label, i, len(b.categories))
		}
	}

	captions := make([]string, len(labels))
	for i, label := range labels {
		if b.policy.IsRandomized() {
			pool := b.pools[label]
			captions[i] = pool[b.rng.Intn(len(pool))]
		} else {
			captions[i] = b.fixedCaption(b.categories[label])
		}
	}

	return b.tokenizer.Tokenize(b.task, captions)
}

// BuildClassPrompts returns the per-class caption ensemble: under the
// randomized policy CaptionsPerClass sampled captions per class, otherwise
// the single fixed caption per class. Its batch dimension is independent of
// any image batch.
func (b *Builder) BuildClassPrompts() (*Set, error) {
	captions := make([]string, 0, len(b.categories)*b.policy.CaptionsPerClass())

	for i, category := range b.categories {
		if b.policy.IsRandomized() {
			captions = append(captions, b.pools[i]...)
		} else {
			captions = append(captions, b.fixedCaption(category))
		}
	}

	return b.tokenizer.Tokenize(b.task, captions)
}

// TaskPrompts returns the inference-time prompt set: the fixed caption for
// the positive class (the last entry of the vocabulary)
func (b *Builder) TaskPrompts() (*Set, error) {
	positive := b.categories[len(b.categories)-1]
	return b.tokenizer.Tokenize(b.task, []string{b.fixedCaption(positive)})
}

func (b *Builder) sampleCaption(category string) string {
	severity := severityPhrases[b.rng.Intn(len(severityPhrases))]
	location := locationPhrases[b.rng.Intn(len(locationPhrases))]

	caption := "a photo of"
	if severity != "" {
		caption += " " + severity
	}
	caption += " " + category + " lungs"
	if location != "" {
		caption += " " + location
	}
	return caption + "."
}

// LabelsFromTensor extracts an int32 label vector from a label tensor
func LabelsFromTensor(labels *tensor.Tensor) ([]int32, error) {
	return labels.Int32Slice()
}
