package embedding

import "context"

// MockEmbedder is a deterministic bag-of-words embedder for tests and offline
// development. Each word is hashed onto a few fixed positions of the vector,
// contributions are summed, and the result is L2-normalized, so texts that
// share words score a higher inner product than unrelated texts.
type MockEmbedder struct {
	dimensions int
}

const wordProbes = 3

// NewMockEmbedder creates a mock embedder producing vectors of the given dimension.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic unit-normalized embedding for text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, m.dimensions)
	for _, word := range Words(text) {
		h := hashWord(word)
		for k := uint64(0); k < wordProbes; k++ {
			emb[(h+k*0x9e3779b97f4a7c15)%uint64(m.dimensions)]++
		}
	}
	NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// Close is a no-op.
func (m *MockEmbedder) Close() error {
	return nil
}
