package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and splits punctuation",
			text: "Use connection-pooling, NOW!",
			want: []string{"use", "connection", "pooling", "now"},
		},
		{
			name: "drops stopwords and single chars",
			text: "this is a test of the tokenizer x",
			want: []string{"test", "tokenizer"},
		},
		{
			name: "keeps digits",
			text: "error 404 on port 8080",
			want: []string{"error", "404", "port", "8080"},
		},
		{
			name: "empty input",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestSparseWeightsSublinearTF(t *testing.T) {
	w := SparseWeights("cache cache cache miss")

	assert.Contains(t, w, "cache")
	assert.Contains(t, w, "miss")
	// Repeats count sublinearly: three occurrences weigh less than 3x one.
	assert.Greater(t, w["cache"], w["miss"])
	assert.Less(t, w["cache"], 3*w["miss"])
}

func TestSparseWeightsDeterministic(t *testing.T) {
	a := SparseWeights("always sanitize SQL input")
	b := SparseWeights("always sanitize SQL input")
	assert.Equal(t, a, b)
}

func TestSparseWeightsEmpty(t *testing.T) {
	assert.Nil(t, SparseWeights("of the a"))
}
