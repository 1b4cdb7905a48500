package reranker

import (
	"context"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
)

// Overlap is a local reranker that blends the fused score with the
// fraction of query terms present in the candidate text. It costs nothing
// to run and nudges candidates with direct lexical evidence above ones
// that only match semantically.
type Overlap struct{}

// NewOverlap creates an Overlap reranker.
func NewOverlap() *Overlap {
	return &Overlap{}
}

// Weight of the overlap fraction versus the fused score. Equal weighting:
// neither signal should be able to fully bury the other.
const overlapWeight = 0.5

// Rerank scores candidates by 0.5*fused + 0.5*overlap.
func (o *Overlap) Rerank(ctx context.Context, query string, cands []Candidate) ([]Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := embeddings.Tokenize(query)
	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = Scored{
			Candidate: c,
			Score:     (1-overlapWeight)*c.FusedScore + overlapWeight*overlapFraction(queryTerms, c.Text),
		}
	}
	return out, nil
}

// Close is a no-op.
func (o *Overlap) Close() error { return nil }

// overlapFraction returns the fraction of unique query terms found in text.
func overlapFraction(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	docTerms := make(map[string]struct{})
	for _, t := range embeddings.Tokenize(text) {
		docTerms[t] = struct{}{}
	}

	seen := make(map[string]struct{}, len(queryTerms))
	matched := 0
	for _, q := range queryTerms {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		if _, ok := docTerms[q]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}
