package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/entry"
	"github.com/fyrsmithlabs/knowd/internal/journal"
)

func newTestEntry(id, text string, at time.Time) *entry.Entry {
	e := &entry.Entry{ID: id, Text: text, CreatedAt: at}
	e.Normalize()
	return e
}

func mustAdd(t *testing.T, ix *Index, fake *embeddings.Fake, e *entry.Entry) {
	t.Helper()
	emb, err := fake.Embed(context.Background(), e.Text)
	require.NoError(t, err)
	require.NoError(t, ix.Add(context.Background(), e, emb))
}

func TestAddAndDenseSearch(t *testing.T) {
	fake := embeddings.NewFake()
	fake.Synonyms = map[string]string{"db": "database", "latency": "performance", "pooling": "database"}

	ix, err := New()
	require.NoError(t, err)

	now := time.Now().UTC()
	mustAdd(t, ix, fake, newTestEntry("pool", "use connection pooling to cut DB latency", now))
	mustAdd(t, ix, fake, newTestEntry("sql", "always sanitize SQL input", now.Add(time.Second)))

	q, err := fake.Embed(context.Background(), "database performance")
	require.NoError(t, err)

	hits, err := ix.TopKDense(context.Background(), q.Dense, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "pool", hits[0].ID)
}

func TestSparseSearchSurfacesLexicalMatch(t *testing.T) {
	fake := embeddings.NewFake()
	ix, err := New()
	require.NoError(t, err)

	now := time.Now().UTC()
	mustAdd(t, ix, fake, newTestEntry("pool", "use connection pooling to cut DB latency", now))
	mustAdd(t, ix, fake, newTestEntry("sql", "always sanitize SQL input", now.Add(time.Second)))

	hits := ix.TopKSparse(embeddings.SparseWeights("SQL"), 2)
	require.Len(t, hits, 1)
	assert.Equal(t, "sql", hits[0].ID)
}

func TestSparseRarerTermsScoreHigher(t *testing.T) {
	fake := embeddings.NewFake()
	ix, err := New()
	require.NoError(t, err)

	now := time.Now().UTC()
	// "cache" appears everywhere; "eviction" only once.
	mustAdd(t, ix, fake, newTestEntry("a", "cache the results", now))
	mustAdd(t, ix, fake, newTestEntry("b", "cache invalidation is hard", now))
	mustAdd(t, ix, fake, newTestEntry("c", "cache eviction policy matters", now))

	hits := ix.TopKSparse(embeddings.SparseWeights("cache eviction"), 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c", hits[0].ID)
}

func TestDuplicateIDRejected(t *testing.T) {
	fake := embeddings.NewFake()
	ix, err := New()
	require.NoError(t, err)

	e := newTestEntry("dup", "some text", time.Now().UTC())
	mustAdd(t, ix, fake, e)

	emb, err := fake.Embed(context.Background(), e.Text)
	require.NoError(t, err)
	assert.ErrorIs(t, ix.Add(context.Background(), e, emb), ErrDuplicateID)
}

func TestAddRequiresDenseVector(t *testing.T) {
	ix, err := New()
	require.NoError(t, err)

	e := newTestEntry("x", "text", time.Now().UTC())
	err = ix.Add(context.Background(), e, embeddings.Embedding{Sparse: map[string]float64{"text": 1}})
	assert.ErrorIs(t, err, ErrNilEmbedding)
}

func TestTombstoneRemovesFromBothSubstructures(t *testing.T) {
	fake := embeddings.NewFake()
	ix, err := New()
	require.NoError(t, err)

	now := time.Now().UTC()
	mustAdd(t, ix, fake, newTestEntry("gone", "ephemeral wisdom", now))
	require.Equal(t, 1, ix.Count())

	require.NoError(t, ix.Tombstone(context.Background(), "gone"))
	assert.Equal(t, 0, ix.Count())

	q, err := fake.Embed(context.Background(), "ephemeral wisdom")
	require.NoError(t, err)
	hits, err := ix.TopKDense(context.Background(), q.Dense, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, ix.TopKSparse(embeddings.SparseWeights("ephemeral wisdom"), 5))

	// The id stays dead.
	emb, err := fake.Embed(context.Background(), "resurrection attempt")
	require.NoError(t, err)
	err = ix.Add(context.Background(), newTestEntry("gone", "resurrection attempt", now), emb)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestTombstoneUnknownID(t *testing.T) {
	ix, err := New()
	require.NoError(t, err)
	assert.ErrorIs(t, ix.Tombstone(context.Background(), "nope"), ErrNotFound)
}

func TestReplayEquivalentToIncremental(t *testing.T) {
	fake := embeddings.NewFake()
	dir := t.TempDir()
	j, err := journal.Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	live, err := New()
	require.NoError(t, err)

	now := time.Now().UTC()
	texts := map[string]string{
		"a": "use connection pooling to cut DB latency",
		"b": "always sanitize SQL input",
		"c": "prefer batch writes for throughput",
		"d": "index your foreign keys",
	}
	order := []string{"a", "b", "c", "d"}
	for i, id := range order {
		e := newTestEntry(id, texts[id], now.Add(time.Duration(i)*time.Second))
		require.NoError(t, j.Append(journal.Record{Op: journal.OpAdd, Entry: e}))
		mustAdd(t, live, fake, e)
	}
	require.NoError(t, j.Append(journal.Record{Op: journal.OpTombstone, Ref: "c"}))
	require.NoError(t, live.Tombstone(context.Background(), "c"))

	cache := OpenVectorCache(dir, fake.ModelVersion(), zap.NewNop())
	rebuilt, n, err := Replay(context.Background(), j.ReadAll, fake, cache, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, live.Count(), rebuilt.Count())

	for _, query := range []string{"database performance", "SQL", "batch throughput"} {
		q, err := fake.Embed(context.Background(), query)
		require.NoError(t, err)

		liveDense, err := live.TopKDense(context.Background(), q.Dense, 3)
		require.NoError(t, err)
		rebuiltDense, err := rebuilt.TopKDense(context.Background(), q.Dense, 3)
		require.NoError(t, err)
		assert.Equal(t, hitIDs(liveDense), hitIDs(rebuiltDense), "dense ranking differs for %q", query)

		liveSparse := live.TopKSparse(q.Sparse, 3)
		rebuiltSparse := rebuilt.TopKSparse(q.Sparse, 3)
		assert.Equal(t, hitIDs(liveSparse), hitIDs(rebuiltSparse), "sparse ranking differs for %q", query)
	}
}

func TestReplaySkipsTombstoneBeforeAdd(t *testing.T) {
	fake := embeddings.NewFake()
	dir := t.TempDir()
	j, err := journal.Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	// Tombstone physically precedes its add; both passes together still
	// exclude the id.
	require.NoError(t, j.Append(journal.Record{Op: journal.OpTombstone, Ref: "x"}))
	e := newTestEntry("x", "already dead", time.Now().UTC())
	require.NoError(t, j.Append(journal.Record{Op: journal.OpAdd, Entry: e}))

	ix, n, err := Replay(context.Background(), j.ReadAll, fake, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, ix.Count())
}

func TestReplayUsesVectorCache(t *testing.T) {
	fake := embeddings.NewFake()
	dir := t.TempDir()
	j, err := journal.Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	now := time.Now().UTC()
	for i, text := range []string{"one fact", "two facts", "three facts"} {
		e := newTestEntry(text[:3]+"-id", text, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, j.Append(journal.Record{Op: journal.OpAdd, Entry: e}))
	}

	cacheDir := t.TempDir()
	cache := OpenVectorCache(cacheDir, fake.ModelVersion(), zap.NewNop())
	_, _, err = Replay(context.Background(), j.ReadAll, fake, cache, zap.NewNop())
	require.NoError(t, err)
	firstCalls := fake.Calls.Load()
	require.Positive(t, firstCalls)

	// Second replay with the persisted cache embeds nothing.
	cache2 := OpenVectorCache(cacheDir, fake.ModelVersion(), zap.NewNop())
	require.Equal(t, 3, cache2.Len())
	_, _, err = Replay(context.Background(), j.ReadAll, fake, cache2, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, firstCalls, fake.Calls.Load())
}

func TestReplayIgnoresCacheFromOtherModel(t *testing.T) {
	dir := t.TempDir()
	cache := OpenVectorCache(dir, "fake/v1", zap.NewNop())
	cache.Put("a", []float32{1, 0})
	cache.Save()

	other := OpenVectorCache(dir, "fake/v2", zap.NewNop())
	assert.Zero(t, other.Len())
}

func TestReplayFailsWhenProviderUnavailable(t *testing.T) {
	fake := embeddings.NewFake()
	dir := t.TempDir()
	j, err := journal.Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	e := newTestEntry("a", "some knowledge", time.Now().UTC())
	require.NoError(t, j.Append(journal.Record{Op: journal.OpAdd, Entry: e}))

	fake.Fail.Store(true)
	_, _, err = Replay(context.Background(), j.ReadAll, fake, nil, zap.NewNop())
	assert.ErrorIs(t, err, embeddings.ErrUnavailable)
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}
