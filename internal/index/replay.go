package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/journal"
)

// ReplayFunc streams journal records in append order. journal.Journal's
// ReadAll and journal.ReadFile both satisfy it.
type ReplayFunc func(func(journal.Record) error) error

// Replay builds a fresh Index from a journal stream: adds are indexed,
// tombstoned ids are skipped entirely. Dense vectors come from the cache
// when present for the provider's model version, otherwise from the
// provider; sparse weights are recomputed locally (cheap and exact).
//
// Replay never mutates a live index. Callers rebuild into the returned
// shadow and swap it in atomically, so concurrent readers either see the
// old state or the complete new one.
func Replay(ctx context.Context, read ReplayFunc, provider embeddings.Provider, cache *VectorCache, logger *zap.Logger) (*Index, int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// First pass: collect tombstoned ids so an add earlier in the log than
	// its tombstone is skipped instead of indexed and removed.
	dead := make(map[string]struct{})
	if err := read(func(rec journal.Record) error {
		if rec.Op == journal.OpTombstone {
			dead[rec.Ref] = struct{}{}
		}
		return nil
	}); err != nil {
		return nil, 0, err
	}

	ix, err := New()
	if err != nil {
		return nil, 0, err
	}
	for id := range dead {
		ix.dead[id] = struct{}{}
	}

	indexed := 0
	embedded := 0
	err = read(func(rec journal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Op != journal.OpAdd {
			return nil
		}
		e := rec.Entry
		if _, gone := dead[e.ID]; gone {
			return nil
		}

		emb := embeddings.Embedding{Sparse: embeddings.SparseWeights(e.Text)}
		if dense, ok := cache.Get(e.ID); ok {
			emb.Dense = dense
		} else {
			full, err := provider.Embed(ctx, e.Text)
			if err != nil {
				return fmt.Errorf("embedding entry %s: %w", e.ID, err)
			}
			emb.Dense = full.Dense
			embedded++
			cache.Put(e.ID, full.Dense)
		}

		if err := ix.Add(ctx, e, emb); err != nil {
			return err
		}
		indexed++
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	cache.Save()

	logger.Info("index replayed",
		zap.Int("entries_indexed", indexed),
		zap.Int("tombstoned", len(dead)),
		zap.Int("embedded", embedded),
		zap.Int("cache_hits", indexed-embedded),
	)
	return ix, indexed, nil
}
