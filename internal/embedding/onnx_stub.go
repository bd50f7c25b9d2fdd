//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// ONNXEmbedder is unavailable without CGO; this stub keeps the package
// buildable so the OpenAI and mock backends can still be used.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails in non-CGO builds.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	return nil, errors.New("onnx embedding requires a CGO-enabled build with the onnxruntime library")
}

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("onnx embedding not available in this build")
}

func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("onnx embedding not available in this build")
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Close() error { return nil }
