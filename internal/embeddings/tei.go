package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TEIProvider generates dense embeddings via a Text Embeddings Inference
// HTTP endpoint. The sparse half is computed locally so the full Embedding
// stays deterministic for a fixed model version.
type TEIProvider struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	dim     int
	logger  *zap.Logger
}

// NewTEIProvider creates a TEI-backed provider.
func NewTEIProvider(cfg Config, logger *zap.Logger) (*TEIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &TEIProvider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		dim:     detectDimension(cfg.Model),
		logger:  logger.Named("tei"),
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// Embed generates the dense vector remotely and the sparse weights locally.
func (p *TEIProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	if text == "" {
		return Embedding{}, ErrEmptyInput
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Embedding{}, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
		}
	}

	body, err := json.Marshal(teiRequest{Inputs: []string{text}, Truncate: true})
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: marshaling request: %v", ErrEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: building request: %v", ErrEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// Context errors pass through so callers can distinguish a
		// timeout from an unreachable provider.
		if ctx.Err() != nil {
			return Embedding{}, ctx.Err()
		}
		return Embedding{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		p.logger.Warn("embed request rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		if resp.StatusCode >= 500 {
			return Embedding{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return Embedding{}, fmt.Errorf("%w: status %d", ErrEmbeddingFailed, resp.StatusCode)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return Embedding{}, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return Embedding{}, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbeddingFailed, len(vectors))
	}

	return Embedding{
		Dense:  vectors[0],
		Sparse: SparseWeights(text),
	}, nil
}

// ModelVersion identifies the remote model.
func (p *TEIProvider) ModelVersion() string {
	return "tei/" + p.model
}

// Dimension returns the dense vector dimension for the configured model.
func (p *TEIProvider) Dimension() int {
	return p.dim
}

// Close is a no-op; the provider holds no connection state.
func (p *TEIProvider) Close() error { return nil }

// detectDimension returns the embedding dimension for a model name,
// falling back to 384 (bge-small family).
func detectDimension(model string) int {
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}
