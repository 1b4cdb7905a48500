//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without
// CGO; the local ONNX runtime needs it. Use the tei provider instead.
var ErrFastEmbedNotAvailable = errors.New("embeddings: fastembed not available (built without cgo)")

// FastEmbedConfig holds configuration for the local ONNX provider.
// Stub for non-CGO builds.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider stub for non-CGO builds.
type FastEmbedProvider struct{}

// NewFastEmbedProvider returns an error when CGO is not available.
func NewFastEmbedProvider(_ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Embed returns an error when CGO is not available.
func (p *FastEmbedProvider) Embed(_ context.Context, _ string) (Embedding, error) {
	return Embedding{}, ErrFastEmbedNotAvailable
}

// ModelVersion returns a fixed marker.
func (p *FastEmbedProvider) ModelVersion() string { return "fastembed/unavailable" }

// Dimension returns zero.
func (p *FastEmbedProvider) Dimension() int { return 0 }

// Close is a no-op.
func (p *FastEmbedProvider) Close() error { return nil }
