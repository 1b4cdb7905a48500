package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Server.SearchTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.AddTimeout)
	assert.Equal(t, "tei", cfg.Embedding.Provider)
	assert.Equal(t, "none", cfg.Reranker.Provider)
	assert.Equal(t, 20, cfg.Search.CandidateK)
	assert.Equal(t, float64(60), cfg.Search.RRFConstant)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  search_timeout: 2s
  min_score_hint: 0.3
embedding:
  provider: none
reranker:
  provider: overlap
logging:
  level: debug
  format: console
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Server.SearchTimeout)
	assert.Equal(t, 0.3, cfg.Server.MinScoreHint)
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.Equal(t, "overlap", cfg.Reranker.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  base_url: http://file:1\n"), 0600))

	t.Setenv("KNOWD_EMBEDDING_BASE_URL", "http://env:2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:2", cfg.Embedding.BaseURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsBadEmbeddingProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  provider: psychic\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}
