package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	t.Run("regular_captions with 1 caption succeeds", func(t *testing.T) {
		policy, err := ParsePolicy("regular_captions", 1)
		require.NoError(t, err)
		assert.False(t, policy.IsRandomized())
		assert.Equal(t, 1, policy.CaptionsPerClass())
	})

	t.Run("regular_captions with 2 captions fails", func(t *testing.T) {
		_, err := ParsePolicy("regular_captions", 2)
		assert.Error(t, err)
	})

	t.Run("random_captions with 0 captions fails", func(t *testing.T) {
		_, err := ParsePolicy("random_captions", 0)
		assert.Error(t, err)
	})

	t.Run("random_captions with 3 captions succeeds", func(t *testing.T) {
		policy, err := ParsePolicy("random_captions", 3)
		require.NoError(t, err)
		assert.True(t, policy.IsRandomized())
		assert.Equal(t, 3, policy.CaptionsPerClass())
	})

	t.Run("unknown option fails", func(t *testing.T) {
		_, err := ParsePolicy("ensemble_captions", 1)
		assert.Error(t, err)
	})
}

func newTestBuilder(t *testing.T, policy Policy) *Builder {
	t.Helper()
	tok, err := NewTokenizer(512, 16)
	require.NoError(t, err)
	builder, err := NewBuilder("COVID", []string{"normal", "covid"}, policy, tok, 7)
	require.NoError(t, err)
	return builder
}

func TestBuildForLabels(t *testing.T) {
	t.Run("fixed policy produces one caption per label", func(t *testing.T) {
		builder := newTestBuilder(t, FixedCaptions())

		set, err := builder.BuildForLabels([]int32{0, 1, 1, 0})
		require.NoError(t, err)

		require.Equal(t, 4, set.Len())
		assert.Equal(t, "a photo of normal lungs.", set.Captions[0])
		assert.Equal(t, "a photo of covid lungs.", set.Captions[1])
		assert.Equal(t, "a photo of covid lungs.", set.Captions[2])
		assert.Equal(t, "a photo of normal lungs.", set.Captions[3])

		// Prompt-set batch dimension matches the image batch under this policy
		assert.Equal(t, []int{4, 16}, set.InputIDs.Shape)
		assert.Equal(t, []int{4, 16}, set.AttentionMask.Shape)
	})

	t.Run("identical captions tokenize identically", func(t *testing.T) {
		builder := newTestBuilder(t, FixedCaptions())

		set, err := builder.BuildForLabels([]int32{1, 1})
		require.NoError(t, err)

		ids, err := set.InputIDs.Int32Slice()
		require.NoError(t, err)
		assert.Equal(t, ids[:16], ids[16:32])
	})

	t.Run("randomized policy stays co-indexed with labels", func(t *testing.T) {
		policy, err := RandomizedCaptions(3)
		require.NoError(t, err)
		builder := newTestBuilder(t, policy)

		set, err := builder.BuildForLabels([]int32{0, 1, 1, 0})
		require.NoError(t, err)

		require.Equal(t, 4, set.Len())
		assert.Contains(t, set.Captions[0], "normal")
		assert.Contains(t, set.Captions[1], "covid")
		assert.Contains(t, set.Captions[2], "covid")
		assert.Contains(t, set.Captions[3], "normal")
	})

	t.Run("randomized captions come from a bounded per-class pool", func(t *testing.T) {
		policy, err := RandomizedCaptions(2)
		require.NoError(t, err)
		builder := newTestBuilder(t, policy)

		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			set, err := builder.BuildForLabels([]int32{1})
			require.NoError(t, err)
			seen[set.Captions[0]] = true
		}
		assert.LessOrEqual(t, len(seen), 2)
	})

	t.Run("out of vocabulary label rejected", func(t *testing.T) {
		builder := newTestBuilder(t, FixedCaptions())
		_, err := builder.BuildForLabels([]int32{0, 2})
		assert.Error(t, err)
	})

	t.Run("empty label batch rejected", func(t *testing.T) {
		builder := newTestBuilder(t, FixedCaptions())
		_, err := builder.BuildForLabels(nil)
		assert.Error(t, err)
	})
}

func TestBuildClassPrompts(t *testing.T) {
	t.Run("fixed policy yields one caption per class", func(t *testing.T) {
		builder := newTestBuilder(t, FixedCaptions())

		set, err := builder.BuildClassPrompts()
		require.NoError(t, err)

		require.Equal(t, 2, set.Len())
		assert.Equal(t, "a photo of normal lungs.", set.Captions[0])
		assert.Equal(t, "a photo of covid lungs.", set.Captions[1])
	})

	t.Run("randomized policy yields the per-class ensembles", func(t *testing.T) {
		policy, err := RandomizedCaptions(3)
		require.NoError(t, err)
		builder := newTestBuilder(t, policy)

		set, err := builder.BuildClassPrompts()
		require.NoError(t, err)

		require.Equal(t, 6, set.Len())
		for _, caption := range set.Captions[:3] {
			assert.Contains(t, caption, "normal")
		}
		for _, caption := range set.Captions[3:] {
			assert.Contains(t, caption, "covid")
		}
	})
}

func TestTaskPrompts(t *testing.T) {
	builder := newTestBuilder(t, FixedCaptions())

	set, err := builder.TaskPrompts()
	require.NoError(t, err)

	require.Equal(t, 1, set.Len())
	assert.Equal(t, "a photo of covid lungs.", set.Captions[0])
	assert.Equal(t, "COVID", set.Task)
}

func TestTokenizer(t *testing.T) {
	t.Run("padding and attention mask", func(t *testing.T) {
		tok, err := NewTokenizer(256, 8)
		require.NoError(t, err)

		set, err := tok.Tokenize("COVID", []string{"a photo of covid lungs."})
		require.NoError(t, err)

		ids, err := set.InputIDs.Int32Slice()
		require.NoError(t, err)
		mask, err := set.AttentionMask.Int32Slice()
		require.NoError(t, err)

		// 5 words tokenized, 3 padding positions
		for i := 0; i < 5; i++ {
			assert.NotZero(t, ids[i], "token position %d should have a nonzero id", i)
			assert.Equal(t, int32(1), mask[i])
		}
		for i := 5; i < 8; i++ {
			assert.Zero(t, ids[i], "padding position %d should have id 0", i)
			assert.Zero(t, mask[i])
		}
	})

	t.Run("tokenization is case insensitive", func(t *testing.T) {
		tok, err := NewTokenizer(256, 8)
		require.NoError(t, err)

		lower, err := tok.Tokenize("COVID", []string{"covid lungs"})
		require.NoError(t, err)
		upper, err := tok.Tokenize("COVID", []string{"COVID Lungs"})
		require.NoError(t, err)

		lowerIDs, _ := lower.InputIDs.Int32Slice()
		upperIDs, _ := upper.InputIDs.Int32Slice()
		assert.Equal(t, lowerIDs, upperIDs)
	})

	t.Run("long captions truncate to max length", func(t *testing.T) {
		tok, err := NewTokenizer(256, 4)
		require.NoError(t, err)

		long := strings.Repeat("finding ", 10)
		set, err := tok.Tokenize("COVID", []string{long})
		require.NoError(t, err)

		mask, _ := set.AttentionMask.Int32Slice()
		assert.Len(t, mask, 4)
	})

	t.Run("caption without tokens rejected", func(t *testing.T) {
		tok, err := NewTokenizer(256, 8)
		require.NoError(t, err)

		_, err = tok.Tokenize("COVID", []string{"..."})
		assert.Error(t, err)
	})
}
