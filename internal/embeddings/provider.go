// Package embeddings turns entry text into the dense vector and sparse
// term-weight representation the index is built from.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Common errors.
var (
	// ErrUnavailable indicates the embedding provider cannot be reached or
	// was configured away. Writes treat this as retryable (the server
	// persists log-only and defers indexing); queries treat it as terminal.
	ErrUnavailable = errors.New("embeddings: provider unavailable")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("embeddings: invalid configuration")

	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("embeddings: empty input text")

	// ErrEmbeddingFailed indicates the provider returned a malformed result.
	ErrEmbeddingFailed = errors.New("embeddings: generation failed")
)

// Embedding is the write-time representation of one text: a dense vector
// for the semantic half of the index and a sparse term-weight map for the
// lexical half.
type Embedding struct {
	Dense  []float32
	Sparse map[string]float64
}

// Provider generates embeddings. Implementations must be deterministic for
// a fixed (text, model version) pair; rebuilds rely on that for idempotence.
type Provider interface {
	// Embed generates the dense and sparse representation of text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// ModelVersion identifies the model; it keys the on-disk vector cache.
	ModelVersion() string

	// Dimension returns the dense vector dimension.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of "tei", "fastembed", "none".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the TEI endpoint (tei provider only).
	BaseURL string `koanf:"base_url"`

	// CacheDir caches model files (fastembed provider only).
	CacheDir string `koanf:"cache_dir"`

	// RequestsPerSecond rate-limits calls to a remote provider.
	// Zero disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "tei"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "tei":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: tei provider requires base_url", ErrInvalidConfig)
		}
	case "fastembed", "none":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests_per_second cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates a provider from config.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "tei":
		return NewTEIProvider(cfg, logger)
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "none":
		return NewUnavailable("embedding provider disabled by configuration"), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// Unavailable is the explicit no-capability provider. The original shell
// layer degraded to a silent no-op when its embedding library was missing;
// here that state is a first-class variant so callers get a typed error
// instead of exception-driven control flow.
type Unavailable struct {
	reason string
}

// NewUnavailable creates an Unavailable provider with a human-readable reason.
func NewUnavailable(reason string) *Unavailable {
	return &Unavailable{reason: reason}
}

// Embed always fails with ErrUnavailable.
func (u *Unavailable) Embed(ctx context.Context, text string) (Embedding, error) {
	return Embedding{}, fmt.Errorf("%w: %s", ErrUnavailable, u.reason)
}

// ModelVersion returns a fixed marker.
func (u *Unavailable) ModelVersion() string { return "unavailable" }

// Dimension returns zero.
func (u *Unavailable) Dimension() int { return 0 }

// Close is a no-op.
func (u *Unavailable) Close() error { return nil }
