//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a sentence-transformer model exported to ONNX locally.
// It requires CGO and the onnxruntime shared library at runtime. Tensors are
// allocated once and reused across Run calls, so inference is serialized.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	tensors    *modelTensors
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	cache      *Cache
	mu         sync.Mutex
}

type modelTensors struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newModelTensors(maxTokens, dimensions int) (*modelTensors, error) {
	t := &modelTensors{}
	ok := false
	defer func() {
		if !ok {
			t.destroy()
		}
	}()

	inputShape := ort.NewShape(1, int64(maxTokens))
	var err error
	if t.inputIDs, err = ort.NewTensor(inputShape, make([]int64, maxTokens)); err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	if t.attentionMask, err = ort.NewTensor(inputShape, make([]int64, maxTokens)); err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	if t.tokenTypeIDs, err = ort.NewTensor(inputShape, make([]int64, maxTokens)); err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	if t.output, err = ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions)); err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	ok = true
	return t, nil
}

func (t *modelTensors) destroy() {
	if t.inputIDs != nil {
		_ = t.inputIDs.Destroy()
		t.inputIDs = nil
	}
	if t.attentionMask != nil {
		_ = t.attentionMask.Destroy()
		t.attentionMask = nil
	}
	if t.tokenTypeIDs != nil {
		_ = t.tokenTypeIDs.Destroy()
		t.tokenTypeIDs = nil
	}
	if t.output != nil {
		_ = t.output.Destroy()
		t.output = nil
	}
}

// NewONNXEmbedder loads the model at modelPath. The onnxruntime environment
// is initialized if it has not been already.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	tensors, err := newModelTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{tensors.inputIDs, tensors.attentionMask, tensors.tokenTypeIDs},
		[]ort.ArbitraryTensor{tensors.output},
		nil,
	)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}

	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &WordTokenizer{},
		cache:      NewCache(cacheSize),
	}, nil
}

// Embed returns the unit-normalized embedding for text, using the cache when possible.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.tensors.inputIDs.GetData(), inputIDs)
	copy(e.tensors.attentionMask.GetData(), attentionMask)
	copy(e.tensors.tokenTypeIDs.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	emb := make([]float32, e.dimensions)
	copy(emb, e.tensors.output.GetData()[:e.dimensions])
	NormalizeL2(emb)
	e.cache.Set(text, emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text, in order.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.tensors != nil {
		e.tensors.destroy()
		e.tensors = nil
	}
	return err
}
