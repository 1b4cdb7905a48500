package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// VectorCacheFile is the on-disk vector cache file name inside the index
// directory.
const VectorCacheFile = "vectors.jsonl"

// cacheLine is one cached dense vector.
type cacheLine struct {
	ID    string    `json:"id"`
	Model string    `json:"model"`
	Dense []float32 `json:"dense"`
}

// VectorCache is the optional on-disk cache of dense vectors, keyed by
// entry id and model version. It only exists to make cold starts cheap:
// a replay consults it before calling the embedding provider. Losing or
// corrupting it costs recomputation, never correctness, so writes are
// best-effort and unsynced.
type VectorCache struct {
	mu     sync.Mutex
	path   string
	model  string
	vecs   map[string][]float32
	logger *zap.Logger
}

// OpenVectorCache loads the cache at dir/vectors.jsonl, keeping only lines
// matching the given model version. A missing or unreadable file yields an
// empty cache.
func OpenVectorCache(dir, model string, logger *zap.Logger) *VectorCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &VectorCache{
		path:   filepath.Join(dir, VectorCacheFile),
		model:  model,
		vecs:   make(map[string][]float32),
		logger: logger.Named("veccache"),
	}

	f, err := os.Open(c.path)
	if err != nil {
		return c
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	stale := 0
	for sc.Scan() {
		var line cacheLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Model != model {
			stale++
			continue
		}
		c.vecs[line.ID] = line.Dense
	}
	if stale > 0 {
		c.logger.Info("ignoring stale vector cache lines from another model",
			zap.Int("stale", stale),
			zap.String("model", model),
		)
	}
	return c
}

// Get returns the cached vector for id, if present.
func (c *VectorCache) Get(id string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vecs[id]
	return v, ok
}

// Put records a vector in memory. Call Save to persist.
func (c *VectorCache) Put(id string, dense []float32) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vecs[id] = dense
}

// Len returns the number of cached vectors.
func (c *VectorCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.vecs)
}

// Save rewrites the cache file compacted to the current contents, via a
// temp file and rename. Failures are logged, not returned: the cache is
// disposable.
func (c *VectorCache) Save() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		c.logger.Warn("cannot create index cache dir", zap.Error(err))
		return
	}

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		c.logger.Warn("cannot write vector cache", zap.Error(err))
		return
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for id, vec := range c.vecs {
		if err := enc.Encode(cacheLine{ID: id, Model: c.model, Dense: vec}); err != nil {
			f.Close()
			os.Remove(tmp)
			c.logger.Warn("cannot encode vector cache line", zap.Error(err))
			return
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		c.logger.Warn("cannot flush vector cache", zap.Error(err))
		return
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		c.logger.Warn("cannot close vector cache", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		c.logger.Warn(fmt.Sprintf("cannot install vector cache at %s", c.path), zap.Error(err))
	}
}
