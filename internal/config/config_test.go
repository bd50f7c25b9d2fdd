package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Port != 8000 {
		t.Errorf("Port=%d", cfg.Server.Port)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("Dimensions=%d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.DefaultTopK != 3 {
		t.Errorf("DefaultTopK=%d", cfg.Retrieval.DefaultTopK)
	}
	if cfg.Retrieval.RelevanceThreshold != 0.15 {
		t.Errorf("RelevanceThreshold=%v", cfg.Retrieval.RelevanceThreshold)
	}
	if !(cfg.Chunking.Overlap < cfg.Chunking.TargetSize && cfg.Chunking.TargetSize < cfg.Chunking.MaxSize) {
		t.Errorf("chunking defaults must satisfy overlap < target < max: %+v", cfg.Chunking)
	}
	if cfg.Storage.DatabasePath == "" || cfg.Storage.UploadsDir == "" {
		t.Error("storage paths should be derived from data_dir")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: 0.0.0.0
  port: 9000
storage:
  data_dir: ./data
embedding:
  provider: mock
  dimensions: 16
retrieval:
  default_top_k: 5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port=%d", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "mock" {
		t.Errorf("Provider=%s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions != 16 {
		t.Errorf("Dimensions=%d", cfg.Embedding.Dimensions)
	}
	if !filepath.IsAbs(cfg.Storage.DataDir) {
		t.Errorf("DataDir should be expanded to absolute, got %s", cfg.Storage.DataDir)
	}
	if cfg.Storage.DataDir != filepath.Join(dir, "data") {
		t.Errorf("DataDir=%s", cfg.Storage.DataDir)
	}
	// Unset fields still get defaults.
	if cfg.Chunking.TargetSize != 800 {
		t.Errorf("TargetSize=%d", cfg.Chunking.TargetSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default("/tmp/krishna-test")
	if cfg.Storage.DataDir != "/tmp/krishna-test" {
		t.Errorf("DataDir=%s", cfg.Storage.DataDir)
	}
	if cfg.Storage.DatabasePath != filepath.Join("/tmp/krishna-test", "krishna.db") {
		t.Errorf("DatabasePath=%s", cfg.Storage.DatabasePath)
	}
}
