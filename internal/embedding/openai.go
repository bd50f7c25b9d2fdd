package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. It works
// with any service that speaks the same API when given a base URL.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	cache      *Cache
}

// NewOpenAIEmbedder creates an embedder against the given endpoint. baseURL
// may be empty to use the default OpenAI API.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions, cacheSize int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai embedder requires an API key")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
		cache:      NewCache(cacheSize),
	}, nil
}

// Embed returns the unit-normalized embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds all texts in a single API request, skipping texts
// already in the cache.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			embeddings[i] = cached
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return embeddings, nil
	}

	req := openai.EmbeddingRequest{
		Input:          missing,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(missing) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(missing))
	}

	for j, data := range resp.Data {
		emb := data.Embedding
		if len(emb) != e.dimensions {
			return nil, fmt.Errorf("%w: API returned %d, configured %d", ErrDimensionMismatch, len(emb), e.dimensions)
		}
		NormalizeL2(emb)
		e.cache.Set(missing[j], emb)
		embeddings[missingIdx[j]] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the client holds no persistent connection state.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// parseAPIError extracts a readable message from the API error response.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding API error %d: %s", reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("embedding request failed: %w", err)
}
