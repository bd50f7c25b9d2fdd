package embedding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrambitHazard/Krishna/internal/metrics"
)

// State is the engine's initialization state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Factory constructs the underlying Provider. Called at most once.
type Factory func() (Provider, error)

// Engine wraps a Provider behind explicit, exactly-once initialization.
// The dimension is declared up front so dependents can be constructed
// before the model is loaded. Init is expected to be called at startup;
// if an embed call races ahead of it, both funnel through the same once.
// Once Ready, Embed and EmbedBatch are safe for concurrent use.
type Engine struct {
	name       string
	dimensions int
	factory    Factory

	once     sync.Once
	provider Provider
	initErr  error
	state    atomic.Int32
}

// NewEngine returns an uninitialized engine that will produce vectors of
// the given dimension once Init has succeeded. name labels the backend
// in logs and metrics (e.g. "onnx", "openai", "mock").
func NewEngine(name string, dimensions int, factory Factory) *Engine {
	return &Engine{
		name:       name,
		dimensions: dimensions,
		factory:    factory,
	}
}

// Dimensions returns the declared embedding dimension. Valid before Init.
func (e *Engine) Dimensions() int {
	return e.dimensions
}

// State returns the current initialization state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Init initializes the backend provider. Safe to call from multiple
// goroutines; the factory runs at most once and every caller observes the
// same outcome. A provider whose output dimension disagrees with the
// declared one fails initialization.
func (e *Engine) Init(ctx context.Context) error {
	e.once.Do(func() {
		e.state.Store(int32(StateInitializing))
		p, err := e.factory()
		if err != nil {
			e.initErr = fmt.Errorf("%w: %v", ErrProviderInit, err)
			e.state.Store(int32(StateFailed))
			return
		}
		if p.Dimensions() != e.dimensions {
			_ = p.Close()
			e.initErr = fmt.Errorf("%w: provider produces %d, configured %d",
				ErrDimensionMismatch, p.Dimensions(), e.dimensions)
			e.state.Store(int32(StateFailed))
			return
		}
		e.provider = p
		e.state.Store(int32(StateReady))
	})
	return e.initErr
}

// Embed returns the unit-normalized embedding for text.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	emb, err := e.provider.Embed(ctx, text)
	e.observe(start, err)
	return emb, err
}

// EmbedBatch returns one embedding per text, in order.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	embs, err := e.provider.EmbedBatch(ctx, texts)
	e.observe(start, err)
	return embs, err
}

func (e *Engine) observe(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(e.name, status).Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
}

// Close releases the backend provider, if one was created.
func (e *Engine) Close() error {
	if e.State() == StateReady && e.provider != nil {
		return e.provider.Close()
	}
	return nil
}
