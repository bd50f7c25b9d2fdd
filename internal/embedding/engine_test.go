package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestEngineInitOnce(t *testing.T) {
	var calls atomic.Int32
	engine := NewEngine("mock", 16, func() (Provider, error) {
		calls.Add(1)
		return NewMockEmbedder(16), nil
	})

	if engine.State() != StateUninitialized {
		t.Fatalf("expected uninitialized state, got %v", engine.State())
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.Init(context.Background()); err != nil {
				t.Errorf("Init failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("factory called %d times, want 1", got)
	}
	if engine.State() != StateReady {
		t.Errorf("expected ready state, got %v", engine.State())
	}
}

func TestEngineInitFailure(t *testing.T) {
	engine := NewEngine("mock", 16, func() (Provider, error) {
		return nil, errors.New("model file missing")
	})

	err := engine.Init(context.Background())
	if !errors.Is(err, ErrProviderInit) {
		t.Fatalf("expected ErrProviderInit, got %v", err)
	}
	if engine.State() != StateFailed {
		t.Errorf("expected failed state, got %v", engine.State())
	}

	// Every later call observes the same outcome.
	if _, err := engine.Embed(context.Background(), "hello"); !errors.Is(err, ErrProviderInit) {
		t.Errorf("Embed after failed init: got %v, want ErrProviderInit", err)
	}
}

func TestEngineDimensionMismatch(t *testing.T) {
	engine := NewEngine("mock", 384, func() (Provider, error) {
		return NewMockEmbedder(16), nil
	})

	if err := engine.Init(context.Background()); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEngineEmbedInitializesLazily(t *testing.T) {
	engine := NewEngine("mock", 16, func() (Provider, error) {
		return NewMockEmbedder(16), nil
	})

	emb, err := engine.Embed(context.Background(), "lazy initialization")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(emb) != 16 {
		t.Errorf("embedding has %d dimensions, want 16", len(emb))
	}
	if engine.State() != StateReady {
		t.Errorf("expected ready state after embed, got %v", engine.State())
	}
}

func TestEngineBatchMatchesSingle(t *testing.T) {
	engine := NewEngine("mock", 32, func() (Provider, error) {
		return NewMockEmbedder(32), nil
	})
	texts := []string{"first paragraph", "second paragraph", "third paragraph"}

	batch, err := engine.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(batch), len(texts))
	}
	for i, text := range texts {
		single, err := engine.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch embedding %d differs from single embedding at position %d", i, j)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateReady:         "ready",
		StateFailed:        "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
