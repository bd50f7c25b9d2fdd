// Package retrieval turns raw queries into filtered, scored sets of passages.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/CrambitHazard/Krishna/internal/metrics"
	"github.com/CrambitHazard/Krishna/internal/vector"
)

// ErrMalformedQuery is returned for empty or oversized queries. Rejection
// happens at this boundary; the index itself never sees a bad query.
var ErrMalformedQuery = errors.New("malformed query")

// RetrievedChunk is one passage surviving the relevance filter. Score is
// rounded to 4 decimals for external consumption.
type RetrievedChunk struct {
	ID       uint64                 `json:"chunk_id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Plan is the outcome of a planned retrieval: the surviving chunks and a
// human-readable strategy descriptor for observability.
type Plan struct {
	Chunks   []RetrievedChunk `json:"chunks"`
	Strategy string           `json:"strategy"`
}

// Planner composes the embedding engine and the vector index into the
// query-time read path.
type Planner struct {
	embedder     Embedder
	store        *vector.Store
	logger       *zap.Logger
	defaultTopK  int
	maxQueryLen  int
	defThreshold float64
}

// Embedder is the slice of the embedding engine the planner needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewPlanner creates a planner. defaultTopK and defaultThreshold are used
// when a caller passes non-positive topK or a negative threshold;
// maxQueryLen bounds query length in runes.
func NewPlanner(embedder Embedder, store *vector.Store, logger *zap.Logger, defaultTopK, maxQueryLen int, defaultThreshold float64) *Planner {
	return &Planner{
		embedder:     embedder,
		store:        store,
		logger:       logger,
		defaultTopK:  defaultTopK,
		maxQueryLen:  maxQueryLen,
		defThreshold: defaultThreshold,
	}
}

// Search embeds the query and returns the raw top-k hits without any
// threshold filtering.
func (p *Planner) Search(ctx context.Context, query string, topK int) ([]vector.SearchResult, error) {
	if err := p.validateQuery(query); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if topK <= 0 {
		topK = p.defaultTopK
	}

	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := p.store.Search(queryVec, topK)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchRequestsTotal.WithLabelValues("success").Inc()
	return results, nil
}

// PlanDefault runs Plan with the configured default threshold.
func (p *Planner) PlanDefault(ctx context.Context, query string, topK int) (*Plan, error) {
	return p.Plan(ctx, query, topK, p.defThreshold)
}

// Plan retrieves topK candidates and discards every result whose score falls
// strictly below threshold. Filtering happens after retrieval; topK sent to
// the index is never altered. An empty index yields an empty plan, not an
// error. The threshold comparison uses full precision; only the reported
// score is rounded.
func (p *Planner) Plan(ctx context.Context, query string, topK int, threshold float64) (*Plan, error) {
	if topK <= 0 {
		topK = p.defaultTopK
	}
	if threshold < 0 {
		threshold = p.defThreshold
	}

	results, err := p.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	chunks := make([]RetrievedChunk, 0, len(results))
	for _, res := range results {
		if res.Score < threshold {
			continue
		}
		chunks = append(chunks, RetrievedChunk{
			ID:       res.ID,
			Text:     res.Text,
			Score:    roundScore(res.Score),
			Metadata: res.Metadata,
		})
	}

	plan := &Plan{
		Chunks:   chunks,
		Strategy: fmt.Sprintf("dense_retrieval(top_k=%d, threshold=%g, returned=%d)", topK, threshold, len(chunks)),
	}
	p.logger.Debug("retrieval plan built",
		zap.Int("top_k", topK),
		zap.Float64("threshold", threshold),
		zap.Int("candidates", len(results)),
		zap.Int("returned", len(chunks)))
	return plan, nil
}

func (p *Planner) validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: empty query", ErrMalformedQuery)
	}
	if n := utf8.RuneCountInString(query); n > p.maxQueryLen {
		return fmt.Errorf("%w: query length %d exceeds %d", ErrMalformedQuery, n, p.maxQueryLen)
	}
	return nil
}

func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}
