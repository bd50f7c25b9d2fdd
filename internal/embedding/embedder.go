// Package embedding provides text embedding behind a single-initialization engine,
// with ONNX, OpenAI-compatible, and deterministic mock backends.
package embedding

import (
	"context"
	"errors"
	"math"
)

// Provider produces unit-normalized vector embeddings for text.
// A batch call is equivalent, vector-for-vector, to per-text calls.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrProviderInit means the embedding backend could not be initialized at all.
// This is fatal: the process cannot embed anything.
var ErrProviderInit = errors.New("embedding provider initialization failed")

// ErrDimensionMismatch means a configured or persisted dimension disagrees
// with the provider's output dimension. This is a fatal configuration error.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// A zero vector is left unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}
