//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig holds configuration for the local ONNX provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2.
	Model string

	// CacheDir caches downloaded model files.
	// Defaults to ~/.cache/knowd/models.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// FastEmbedProvider generates dense embeddings with a local ONNX model,
// with no network dependency once the model is cached.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	mu        sync.Mutex
}

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var fastEmbedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
	fastembed.AllMiniLML6V2: 384,
}

// NewFastEmbedProvider creates a local ONNX embedding provider.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	name := cfg.Model
	if name == "" {
		name = "BAAI/bge-small-en-v1.5"
	}
	model, ok := fastEmbedModels[name]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, name)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".cache", "knowd", "models")
		} else {
			cacheDir = filepath.Join(".", "local_cache")
		}
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	// No progress bars in a daemon.
	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing fastembed: %v", ErrUnavailable, err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: name,
		dimension: fastEmbedDimensions[model],
	}, nil
}

// Embed generates the dense vector locally and the sparse weights in-process.
// BGE models want a "passage: " prefix for stored documents; queries and
// documents must embed identically here (one Embed serves both paths), so
// the raw text is used for both.
func (p *FastEmbedProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	if text == "" {
		return Embedding{}, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return Embedding{}, err
	}

	// The ONNX session is not safe for concurrent inference.
	p.mu.Lock()
	vectors, err := p.model.Embed([]string{text}, 1)
	p.mu.Unlock()
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != 1 {
		return Embedding{}, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbeddingFailed, len(vectors))
	}

	return Embedding{
		Dense:  vectors[0],
		Sparse: SparseWeights(text),
	}, nil
}

// ModelVersion identifies the local model.
func (p *FastEmbedProvider) ModelVersion() string {
	return "fastembed/" + p.modelName
}

// Dimension returns the dense vector dimension.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX session.
func (p *FastEmbedProvider) Close() error {
	if p.model != nil {
		p.model.Destroy()
	}
	return nil
}
