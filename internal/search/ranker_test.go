package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/entry"
	"github.com/fyrsmithlabs/knowd/internal/index"
	"github.com/fyrsmithlabs/knowd/internal/reranker"
)

func newFake() *embeddings.Fake {
	f := embeddings.NewFake()
	f.Synonyms = map[string]string{
		"db":      "database",
		"pooling": "database",
		"latency": "performance",
	}
	return f
}

func addEntry(t *testing.T, ix *index.Index, fake *embeddings.Fake, id, text string, kind entry.Kind, at time.Time) {
	t.Helper()
	e := &entry.Entry{ID: id, Text: text, Kind: kind, CreatedAt: at}
	e.Normalize()
	emb, err := fake.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, ix.Add(context.Background(), e, emb))
}

// The canonical hybrid scenario: a semantic-only match must win on a
// semantic query, and a lexical-only match must still surface on an exact
// term query.
func TestHybridScenario(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)

	now := time.Now().UTC()
	addEntry(t, ix, fake, "pool", "use connection pooling to cut DB latency", entry.KindLesson, now)
	addEntry(t, ix, fake, "sql", "always sanitize SQL input", entry.KindWarning, now.Add(time.Second))

	r := NewRanker(Config{}, fake, nil, zap.NewNop())

	results, err := r.Search(context.Background(), ix, "database performance", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "pool", results[0].Entry.ID,
		"dense similarity should dominate with no lexical overlap")

	results, err = r.Search(context.Background(), ix, "SQL", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "sql", results[0].Entry.ID,
		"sparse path alone should surface the lexical match")
}

func TestSearchImmediateExactText(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)

	now := time.Now().UTC()
	addEntry(t, ix, fake, "a", "prefer structured logging over printf", entry.KindBestPractice, now)
	addEntry(t, ix, fake, "b", "rotate credentials quarterly", entry.KindWarning, now.Add(time.Second))

	r := NewRanker(Config{}, fake, nil, zap.NewNop())
	results, err := r.Search(context.Background(), ix, "prefer structured logging over printf", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Entry.ID)
}

func TestSearchLimitAndScoresDescending(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)

	now := time.Now().UTC()
	texts := []string{
		"cache results aggressively",
		"cache invalidation strategies",
		"caching layers add complexity",
		"unrelated gardening advice",
	}
	for i, text := range texts {
		addEntry(t, ix, fake, text[:7], text, entry.KindLesson, now.Add(time.Duration(i)*time.Second))
	}

	r := NewRanker(Config{}, fake, nil, zap.NewNop())
	results, err := r.Search(context.Background(), ix, "cache invalidation", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchUnavailableWhenEmbedderDown(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)
	addEntry(t, ix, fake, "a", "some knowledge", entry.KindLesson, time.Now().UTC())

	fake.Fail.Store(true)
	r := NewRanker(Config{}, fake, nil, zap.NewNop())

	_, err = r.Search(context.Background(), ix, "anything", 5)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestSearchEmptyIndex(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)

	r := NewRanker(Config{}, fake, nil, zap.NewNop())
	results, err := r.Search(context.Background(), ix, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results, "no matches is an empty list, not an error")
}

func TestSearchInputValidation(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)
	r := NewRanker(Config{}, fake, nil, zap.NewNop())

	_, err = r.Search(context.Background(), ix, "", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = r.Search(context.Background(), ix, "q", 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestTieBreakCreatedAtDescending(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)

	// Identical text embeds identically, so both fusion and rerank scores
	// tie exactly; only CreatedAt can order them.
	now := time.Now().UTC()
	addEntry(t, ix, fake, "old", "retry with exponential backoff", entry.KindLesson, now)
	addEntry(t, ix, fake, "new", "retry with exponential backoff", entry.KindLesson, now.Add(time.Minute))

	r := NewRanker(Config{}, fake, nil, zap.NewNop())
	for i := 0; i < 5; i++ {
		results, err := r.Search(context.Background(), ix, "retry with exponential backoff", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "new", results[0].Entry.ID, "fresher entry wins ties")
		assert.Equal(t, "old", results[1].Entry.ID)
	}
}

func TestRerankerOverridesFusedOrder(t *testing.T) {
	fake := newFake()
	ix, err := index.New()
	require.NoError(t, err)

	now := time.Now().UTC()
	addEntry(t, ix, fake, "a", "token refresh and authentication handling", entry.KindLesson, now)
	addEntry(t, ix, fake, "b", "database connection tuning", entry.KindLesson, now.Add(time.Second))

	r := NewRanker(Config{}, fake, reranker.NewOverlap(), zap.NewNop())
	results, err := r.Search(context.Background(), ix, "authentication token", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Entry.ID)
}

func TestRRFSingleListCandidateEligible(t *testing.T) {
	r := NewRanker(Config{}, newFake(), nil, zap.NewNop())

	dense := []index.Hit{{ID: "both", Score: 0.9}, {ID: "denseonly", Score: 0.5}}
	sparse := []index.Hit{{ID: "both", Score: 3.2}}

	fused := r.fuse(dense, sparse)
	require.Len(t, fused, 2)
	assert.Equal(t, "both", fused[0].id)
	assert.Equal(t, "denseonly", fused[1].id)
	// 1/(60+1) from each list.
	assert.InDelta(t, 2.0/61.0, fused[0].score, 1e-9)
	assert.InDelta(t, 1.0/62.0, fused[1].score, 1e-9)
}
