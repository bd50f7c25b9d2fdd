package config

import "path/filepath"

// DefaultExtensions are the file extensions accepted for ingestion.
var DefaultExtensions = []string{".pdf", ".txt", ".md", ".docx", ".pptx", ".xlsx"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/krishna/data"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "krishna.db")
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Chunking.TargetSize == 0 {
		cfg.Chunking.TargetSize = 800
	}
	if cfg.Chunking.MaxSize == 0 {
		cfg.Chunking.MaxSize = 1200
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 150
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 3
	}
	if cfg.Retrieval.RelevanceThreshold == 0 {
		cfg.Retrieval.RelevanceThreshold = 0.15
	}
	if cfg.Retrieval.MaxQueryLength == 0 {
		cfg.Retrieval.MaxQueryLength = 4096
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
