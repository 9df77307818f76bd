package prompts

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/tsawler/go-medclip/tensor"
)

// Set is a tokenized prompt batch for a single task: input ids and an
// attention mask, both [numCaptions, maxSeqLen] Int32 tensors. Padding
// positions carry id 0 and mask 0.
type Set struct {
	Task          string
	Captions      []string
	InputIDs      *tensor.Tensor
	AttentionMask *tensor.Tensor
}

// Len returns the number of captions in the set
func (s *Set) Len() int {
	return len(s.Captions)
}

// Tokenizer maps captions to fixed-length id sequences. Token ids come from
// a hashing-trick vocabulary: id = 1 + (fnv32(token) mod (vocabSize-1)),
// reserving id 0 for padding. This keeps the text tower self-contained
// without shipping a vocabulary file.
type Tokenizer struct {
	vocabSize int
	maxSeqLen int
}

// NewTokenizer creates a tokenizer with the given vocabulary size and
// maximum sequence length
func NewTokenizer(vocabSize, maxSeqLen int) (*Tokenizer, error) {
	if vocabSize < 2 {
		return nil, fmt.Errorf("vocabulary size must be at least 2, got %d", vocabSize)
	}
	if maxSeqLen < 1 {
		return nil, fmt.Errorf("max sequence length must be at least 1, got %d", maxSeqLen)
	}
	return &Tokenizer{vocabSize: vocabSize, maxSeqLen: maxSeqLen}, nil
}

// VocabSize returns the vocabulary size including the padding id
func (t *Tokenizer) VocabSize() int {
	return t.vocabSize
}

// MaxSeqLen returns the fixed sequence length
func (t *Tokenizer) MaxSeqLen() int {
	return t.maxSeqLen
}

func (t *Tokenizer) tokenID(token string) int32 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return 1 + int32(h.Sum32()%uint32(t.vocabSize-1))
}

func splitWords(caption string) []string {
	lowered := strings.ToLower(caption)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

// Tokenize converts captions into a prompt set for the given task
func (t *Tokenizer) Tokenize(task string, captions []string) (*Set, error) {
	if len(captions) == 0 {
		return nil, fmt.Errorf("cannot tokenize an empty caption list")
	}

	n := len(captions)
	ids := make([]int32, n*t.maxSeqLen)
	mask := make([]int32, n*t.maxSeqLen)

	for i, caption := range captions {
		words := splitWords(caption)
		if len(words) == 0 {
			return nil, fmt.Errorf("caption %d (%q) contains no tokens", i, caption)
		}
		if len(words) > t.maxSeqLen {
			words = words[:t.maxSeqLen]
		}

		offset := i * t.maxSeqLen
		for j, word := range words {
			ids[offset+j] = t.tokenID(word)
			mask[offset+j] = 1
		}
	}

	inputIDs, err := tensor.NewTensor([]int{n, t.maxSeqLen}, tensor.Int32, tensor.CPU, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input id tensor: %v", err)
	}

	attentionMask, err := tensor.NewTensor([]int{n, t.maxSeqLen}, tensor.Int32, tensor.CPU, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention mask tensor: %v", err)
	}

	captionsCopy := make([]string, n)
	copy(captionsCopy, captions)

	return &Set{
		Task:          task,
		Captions:      captionsCopy,
		InputIDs:      inputIDs,
		AttentionMask: attentionMask,
	}, nil
}
