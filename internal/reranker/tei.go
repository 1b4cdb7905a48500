package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TEI scores pairs with a Text Embeddings Inference /rerank endpoint
// (a cross-encoder model behind HTTP).
type TEI struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewTEI creates a TEI-backed reranker.
func NewTEI(baseURL string, logger *zap.Logger) *TEI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TEI{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("rerank"),
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank sends all candidate texts in one request and maps the returned
// scores back by index.
func (t *TEI) Rerank(ctx context.Context, query string, cands []Candidate) ([]Scored, error) {
	if len(cands) == 0 {
		return nil, nil
	}

	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("reranker: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reranker: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		t.logger.Warn("rerank request rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("reranker: decoding response: %w", err)
	}

	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = Scored{Candidate: c, Score: c.FusedScore}
	}
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(cands) {
			return nil, fmt.Errorf("reranker: result index %d out of range", r.Index)
		}
		out[r.Index].Score = r.Score
	}
	return out, nil
}

// Close is a no-op; the reranker holds no connection state.
func (t *TEI) Close() error { return nil }
