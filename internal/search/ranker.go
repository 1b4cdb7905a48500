// Package search implements the hybrid ranker: it runs a query against the
// dense and sparse index substructures, fuses the two rank lists with
// Reciprocal Rank Fusion, and optionally reranks the fused shortlist.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/entry"
	"github.com/fyrsmithlabs/knowd/internal/index"
	"github.com/fyrsmithlabs/knowd/internal/reranker"
)

// Common errors.
var (
	// ErrSearchUnavailable means the query could not be embedded, so no
	// ranking signal exists. There is deliberately no substring fallback
	// here: mixing fuzzy and exact semantics in one result list would make
	// scores meaningless, and callers must be able to tell "search broken"
	// from "no matches".
	ErrSearchUnavailable = errors.New("search: unavailable")

	ErrEmptyQuery   = errors.New("search: empty query")
	ErrInvalidLimit = errors.New("search: limit must be positive")
)

// Defaults for the fusion stage.
const (
	// DefaultCandidateK is how many candidates each substructure yields
	// before fusion.
	DefaultCandidateK = 20

	// DefaultRRFConstant discounts low ranks in reciprocal rank fusion.
	// The standard value; tunable, not load-bearing.
	DefaultRRFConstant = 60
)

// Config tunes the ranker.
type Config struct {
	// CandidateK is the per-substructure candidate pool size. Raised to
	// the request limit when the limit is larger.
	CandidateK int `koanf:"candidate_k"`

	// RRFConstant is the k in 1/(k+rank).
	RRFConstant float64 `koanf:"rrf_constant"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.CandidateK == 0 {
		c.CandidateK = DefaultCandidateK
	}
	if c.RRFConstant == 0 {
		c.RRFConstant = DefaultRRFConstant
	}
}

// Result is one ranked entry. Score is only meaningful as a relative
// order within a single response; it is never a probability.
type Result struct {
	Entry *entry.Entry
	Score float64
}

// Ranker executes hybrid queries against an index snapshot.
type Ranker struct {
	cfg      Config
	provider embeddings.Provider
	rerank   reranker.Reranker // nil means fused order is final
	logger   *zap.Logger
}

// NewRanker creates a ranker. rerank may be nil.
func NewRanker(cfg Config, provider embeddings.Provider, rerank reranker.Reranker, logger *zap.Logger) *Ranker {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{
		cfg:      cfg,
		provider: provider,
		rerank:   rerank,
		logger:   logger.Named("search"),
	}
}

// Search runs the full hybrid pipeline against ix and returns at most
// limit results, best first.
func (r *Ranker) Search(ctx context.Context, ix *index.Index, query string, limit int) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	start := time.Now()

	emb, err := r.provider.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embeddings.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
		}
		return nil, err
	}

	k := r.cfg.CandidateK
	if limit > k {
		k = limit
	}

	denseHits, err := ix.TopKDense(ctx, emb.Dense, k)
	if err != nil {
		return nil, err
	}
	sparseHits := ix.TopKSparse(emb.Sparse, k)

	fused := r.fuse(denseHits, sparseHits)
	if len(fused) == 0 {
		return nil, nil
	}

	results, err := r.finalize(ctx, ix, query, fused, limit)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("search executed",
		zap.String("query", query),
		zap.Int("dense_candidates", len(denseHits)),
		zap.Int("sparse_candidates", len(sparseHits)),
		zap.Int("fused", len(fused)),
		zap.Int("returned", len(results)),
		zap.Duration("took", time.Since(start)),
	)
	return results, nil
}

// fused is one candidate after reciprocal rank fusion.
type fusedHit struct {
	id    string
	score float64
}

// fuse combines the two rank lists with RRF: each candidate's score is the
// sum over lists containing it of 1/(c + rank). A candidate in only one
// list keeps that single contribution on purpose; an entry does not need
// to match both lexically and semantically to surface.
func (r *Ranker) fuse(lists ...[]index.Hit) []fusedHit {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, hit := range list {
			scores[hit.ID] += 1 / (r.cfg.RRFConstant + float64(rank+1))
		}
	}

	fused := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedHit{id: id, score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].id < fused[j].id
	})
	return fused
}

// finalize resolves entries, applies the optional reranker over the fused
// shortlist, orders with the recency tie-break, and truncates to limit.
func (r *Ranker) finalize(ctx context.Context, ix *index.Index, query string, fused []fusedHit, limit int) ([]Result, error) {
	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		e, ok := ix.Get(f.id)
		if !ok {
			// Tombstoned between retrieval and resolution; drop it.
			continue
		}
		results = append(results, Result{Entry: e, Score: f.score})
	}

	if r.rerank != nil && len(results) > 0 {
		cands := make([]reranker.Candidate, len(results))
		for i, res := range results {
			cands[i] = reranker.Candidate{
				ID:         res.Entry.ID,
				Text:       res.Entry.Text,
				FusedScore: res.Score,
			}
		}
		scored, err := r.rerank.Rerank(ctx, query, cands)
		if err != nil {
			return nil, fmt.Errorf("%w: reranking: %v", ErrSearchUnavailable, err)
		}
		byID := make(map[string]float64, len(scored))
		for _, s := range scored {
			byID[s.ID] = s.Score
		}
		for i := range results {
			results[i].Score = byID[results[i].Entry.ID]
		}
	}

	// Equal scores order by CreatedAt descending: when relevance is
	// ambiguous, fresher knowledge surfaces first. The id comparison
	// makes the order total and stable across repeated queries.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Entry.CreatedAt.Equal(results[j].Entry.CreatedAt) {
			return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
