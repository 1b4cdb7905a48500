// Package index holds the in-memory search structures derived from the
// journal: a dense vector substructure (chromem-go) and a sparse inverted
// postings substructure (BM25). The index is a cache; the journal is truth.
// Replaying the journal from scratch must reproduce live state.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/entry"
)

// Common errors.
var (
	ErrDuplicateID = errors.New("index: duplicate entry id")
	ErrNotFound    = errors.New("index: entry not found")
	ErrNilEmbedding = errors.New("index: entry has no dense embedding")
)

// Hit is one scored candidate from a substructure.
type Hit struct {
	ID    string
	Score float64
}

// Index is safe for concurrent use: searches take a read lock against a
// stable state while all mutations (Add, Tombstone) serialize on the write
// lock. A full rebuild constructs a shadow Index and the owner swaps the
// pointer, so readers never observe a half-built index either way.
type Index struct {
	mu      sync.RWMutex
	dense   *denseIndex
	sparse  *sparseIndex
	entries map[string]*entry.Entry
	dead    map[string]struct{}
}

// New creates an empty index.
func New() (*Index, error) {
	dense, err := newDenseIndex()
	if err != nil {
		return nil, err
	}
	return &Index{
		dense:   dense,
		sparse:  newSparseIndex(),
		entries: make(map[string]*entry.Entry),
		dead:    make(map[string]struct{}),
	}, nil
}

// Add incrementally indexes one entry in both substructures. The result is
// equivalent to a rebuild that included the entry.
func (ix *Index) Add(ctx context.Context, e *entry.Entry, emb embeddings.Embedding) error {
	if len(emb.Dense) == 0 {
		return fmt.Errorf("%w: %s", ErrNilEmbedding, e.ID)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.entries[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	if _, ok := ix.dead[e.ID]; ok {
		// A tombstoned id stays dead; ids are never reused.
		return fmt.Errorf("%w: %s is tombstoned", ErrDuplicateID, e.ID)
	}

	if err := ix.dense.add(ctx, e.ID, e.Text, emb.Dense); err != nil {
		return err
	}
	ix.sparse.add(e.ID, emb.Sparse)
	ix.entries[e.ID] = e
	return nil
}

// Tombstone removes an entry from both substructures and remembers the id
// as dead so replays and late adds cannot resurrect it.
func (ix *Index) Tombstone(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.dead[id] = struct{}{}
	if _, ok := ix.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ix.dense.remove(ctx, id); err != nil {
		return err
	}
	ix.sparse.remove(id)
	delete(ix.entries, id)
	return nil
}

// TopKDense returns up to k entries nearest to vec by cosine similarity.
func (ix *Index) TopKDense(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dense.topK(ctx, vec, k)
}

// TopKSparse returns up to k entries by BM25 score against the query's
// term weights.
func (ix *Index) TopKSparse(query map[string]float64, k int) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.sparse.topK(query, k)
}

// Get returns the live entry for id.
func (ix *Index) Get(id string) (*entry.Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[id]
	return e, ok
}

// Count returns the number of live (non-tombstoned) entries.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}
