// Package reranker refines a fused candidate shortlist by scoring each
// (query, candidate text) pair directly.
package reranker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("reranker: invalid configuration")

	// ErrUnavailable indicates a remote reranker cannot be reached. The
	// ranker treats this as terminal for the request; it never silently
	// falls back to the fused order mid-search.
	ErrUnavailable = errors.New("reranker: unavailable")
)

// Candidate is one fused search candidate handed to the reranker.
type Candidate struct {
	ID   string
	Text string
	// FusedScore is the RRF score from the hybrid fusion stage.
	FusedScore float64
}

// Scored pairs a candidate with its reranker score. Higher is better;
// scores from different reranker implementations are only comparable
// within one response.
type Scored struct {
	Candidate
	Score float64
}

// Reranker scores (query, candidate) pairs.
type Reranker interface {
	// Rerank scores every candidate against the query. It returns one
	// Scored per input candidate, in input order; the caller sorts.
	Rerank(ctx context.Context, query string, cands []Candidate) ([]Scored, error)

	// Close releases resources held by the reranker.
	Close() error
}

// Config selects a reranker implementation.
type Config struct {
	// Provider is one of "none" (fused order is final), "overlap"
	// (local term-overlap scorer), "tei" (HTTP cross-encoder).
	Provider string `koanf:"provider"`

	// BaseURL is the TEI rerank endpoint (tei provider only).
	BaseURL string `koanf:"base_url"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "none"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "none", "overlap":
		return nil
	case "tei":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: tei reranker requires base_url", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
}

// New creates a reranker from config. A nil return with nil error means
// no reranker is configured and the fused order stands.
func New(cfg Config, logger *zap.Logger) (Reranker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "overlap":
		return NewOverlap(), nil
	case "tei":
		return NewTEI(cfg.BaseURL, logger), nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
}
