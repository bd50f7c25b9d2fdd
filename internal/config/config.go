// Package config provides configuration loading and structs for the Krishna server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database, the index snapshot, and raw uploads.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	UploadsDir   string `yaml:"uploads_dir"`
}

// IndexDir returns the directory holding the vector index snapshot.
func (s *StorageConfig) IndexDir() string {
	return filepath.Join(s.DataDir, "index")
}

// EmbeddingConfig holds embedding provider settings.
// Provider selects the backend: "onnx", "openai", or "mock".
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// ChunkingConfig holds chunker settings (all sizes in characters).
type ChunkingConfig struct {
	TargetSize int `yaml:"target_size"`
	MaxSize    int `yaml:"max_size"`
	Overlap    int `yaml:"overlap"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	DefaultTopK        int     `yaml:"default_top_k"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	MaxQueryLength     int     `yaml:"max_query_length"`
}

// WatchConfig holds directory watch settings for auto-ingestion.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.UploadsDir = expandPath(cfg.Storage.UploadsDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with all defaults applied, rooted at dataDir.
// Used when no config file is present.
func Default(dataDir string) *Config {
	cfg := &Config{}
	cfg.Storage.DataDir = dataDir
	ApplyDefaults(cfg)
	return cfg
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
