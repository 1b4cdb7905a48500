package index

import (
	"math"
	"sort"
)

// BM25 parameters. Standard values; tunable, not load-bearing for
// correctness (scores only need to be monotonic in overlap and rarity).
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// sparseIndex is the lexical substructure: inverted postings over the
// per-document term weights produced by the embedding pipeline, scored
// with BM25 at query time. Document frequency is corpus state, so idf is
// computed here rather than at write time; postings store only the
// write-time term weight.
type sparseIndex struct {
	// postings maps term -> doc id -> term weight.
	postings map[string]map[string]float64

	// docTerms maps doc id -> its sparse weights, kept for removal.
	docTerms map[string]map[string]float64

	// docLen is the summed term weight per doc; totalLen its sum.
	docLen   map[string]float64
	totalLen float64
}

func newSparseIndex() *sparseIndex {
	return &sparseIndex{
		postings: make(map[string]map[string]float64),
		docTerms: make(map[string]map[string]float64),
		docLen:   make(map[string]float64),
	}
}

func (s *sparseIndex) add(id string, weights map[string]float64) {
	var length float64
	for term, w := range weights {
		m, ok := s.postings[term]
		if !ok {
			m = make(map[string]float64)
			s.postings[term] = m
		}
		m[id] = w
		length += w
	}
	s.docTerms[id] = weights
	s.docLen[id] = length
	s.totalLen += length
}

func (s *sparseIndex) remove(id string) {
	weights, ok := s.docTerms[id]
	if !ok {
		return
	}
	for term := range weights {
		if m, ok := s.postings[term]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.postings, term)
			}
		}
	}
	s.totalLen -= s.docLen[id]
	delete(s.docLen, id)
	delete(s.docTerms, id)
}

func (s *sparseIndex) count() int {
	return len(s.docTerms)
}

// topK scores documents against the query's term weights with BM25 and
// returns up to k hits, best first. Ties break on id so the ordering is
// total; the ranker layers its own recency tie-break on top.
func (s *sparseIndex) topK(query map[string]float64, k int) []Hit {
	n := len(s.docTerms)
	if n == 0 || k <= 0 || len(query) == 0 {
		return nil
	}

	avgLen := s.totalLen / float64(n)
	scores := make(map[string]float64)
	for term, qw := range query {
		docs, ok := s.postings[term]
		if !ok {
			continue
		}
		df := float64(len(docs))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for id, w := range docs {
			denom := w + bm25K1*(1-bm25B+bm25B*s.docLen[id]/avgLen)
			scores[id] += qw * idf * (w * (bm25K1 + 1)) / denom
		}
	}
	if len(scores) == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
