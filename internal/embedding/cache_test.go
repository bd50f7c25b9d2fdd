package embedding

import "testing"

func TestCacheSetGet(t *testing.T) {
	cache := NewCache(2)

	cache.Set("a", []float32{1, 2})
	got, ok := cache.Get("a")
	if !ok {
		t.Fatal("expected cache hit for a")
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}

	if _, ok := cache.Get("missing"); ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestCacheEviction(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", []float32{1})
	cache.Set("b", []float32{2})

	// Touch a so b becomes the eviction candidate.
	cache.Get("a")
	cache.Set("c", []float32{3})

	if _, ok := cache.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Error("expected a to survive")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}

func TestCacheUpdateExisting(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", []float32{1})
	cache.Set("a", []float32{9})

	got, ok := cache.Get("a")
	if !ok || got[0] != 9 {
		t.Errorf("got %v, want updated value [9]", got)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}
