package index

import (
	"context"
	"errors"
	"fmt"
	"math"

	chromem "github.com/philippgille/chromem-go"
)

// errNoEmbedFunc guards against chromem ever being asked to embed. All
// vectors are precomputed by the embedding pipeline; letting chromem fall
// back to its default embedding function would silently call OpenAI.
var errNoEmbedFunc = errors.New("index: collection only accepts precomputed embeddings")

// denseIndex is the semantic substructure: an in-memory chromem-go
// collection queried by cosine similarity over precomputed vectors.
type denseIndex struct {
	db   *chromem.DB
	coll *chromem.Collection
}

func newDenseIndex() (*denseIndex, error) {
	db := chromem.NewDB()
	coll, err := db.CreateCollection("entries", nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbedFunc
	})
	if err != nil {
		return nil, fmt.Errorf("creating dense collection: %w", err)
	}
	return &denseIndex{db: db, coll: coll}, nil
}

func (d *denseIndex) add(ctx context.Context, id, text string, vec []float32) error {
	doc := chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: normalize(vec),
	}
	if err := d.coll.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("adding %s to dense index: %w", id, err)
	}
	return nil
}

func (d *denseIndex) remove(ctx context.Context, id string) error {
	if err := d.coll.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("removing %s from dense index: %w", id, err)
	}
	return nil
}

func (d *denseIndex) count() int {
	return d.coll.Count()
}

// topK returns up to k nearest entries by cosine similarity. chromem
// rejects nResults above the collection size, so k is clamped.
func (d *denseIndex) topK(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	n := d.coll.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := d.coll.QueryEmbedding(ctx, normalize(vec), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying dense index: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ID: r.ID, Score: float64(r.Similarity)}
	}
	return hits, nil
}

// normalize returns a unit-length copy of vec. chromem expects normalized
// vectors for cosine similarity; doing it here keeps providers honest.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 || norm == 1 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
