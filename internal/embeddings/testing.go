package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync/atomic"
)

// Fake is a deterministic in-process Provider for tests. Each distinct
// concept token is hashed to a stable pseudo-random unit direction; a text
// embeds to the normalized sum of its token directions, so texts sharing
// concepts get high cosine similarity and disjoint texts sit near zero.
//
// Synonyms maps surface tokens to canonical concepts ("db" -> "database"),
// which lets tests model semantic similarity without lexical overlap.
type Fake struct {
	// Dim is the dense dimension. Defaults to 32.
	Dim int

	// Synonyms maps token -> canonical concept.
	Synonyms map[string]string

	// Fail, when set, makes Embed return ErrUnavailable. Toggleable
	// mid-test to exercise the degraded paths.
	Fail atomic.Bool

	// Calls counts Embed invocations (vector cache tests).
	Calls atomic.Int64
}

// NewFake returns a Fake with default dimension.
func NewFake() *Fake {
	return &Fake{Dim: 32}
}

// Embed deterministically embeds text.
func (f *Fake) Embed(ctx context.Context, text string) (Embedding, error) {
	if f.Fail.Load() {
		return Embedding{}, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Embedding{}, err
	}
	if text == "" {
		return Embedding{}, ErrEmptyInput
	}
	f.Calls.Add(1)

	dim := f.Dim
	if dim == 0 {
		dim = 32
	}

	sum := make([]float64, dim)
	for _, tok := range Tokenize(text) {
		if canon, ok := f.Synonyms[tok]; ok {
			tok = canon
		}
		dir := conceptDirection(tok, dim)
		for i, v := range dir {
			sum[i] += v
		}
	}

	var norm float64
	for _, v := range sum {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	dense := make([]float32, dim)
	if norm > 0 {
		for i, v := range sum {
			dense[i] = float32(v / norm)
		}
	}

	return Embedding{
		Dense:  dense,
		Sparse: SparseWeights(text),
	}, nil
}

// ModelVersion returns a fixed marker.
func (f *Fake) ModelVersion() string { return "fake/v1" }

// Dimension returns the dense dimension.
func (f *Fake) Dimension() int {
	if f.Dim == 0 {
		return 32
	}
	return f.Dim
}

// Close is a no-op.
func (f *Fake) Close() error { return nil }

// conceptDirection returns a stable unit vector for a concept token.
func conceptDirection(token string, dim int) []float64 {
	h := fnv.New64a()
	h.Write([]byte(token))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	v := make([]float64, dim)
	var norm float64
	for i := range v {
		v[i] = rng.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}
