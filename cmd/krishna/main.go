// Package main is the Krishna CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/CrambitHazard/Krishna/internal/config"
	"github.com/CrambitHazard/Krishna/internal/embedding"
	"github.com/CrambitHazard/Krishna/internal/ingest"
	"github.com/CrambitHazard/Krishna/internal/logger"
	"github.com/CrambitHazard/Krishna/internal/metrics"
	"github.com/CrambitHazard/Krishna/internal/retrieval"
	"github.com/CrambitHazard/Krishna/internal/server"
	"github.com/CrambitHazard/Krishna/internal/storage"
	"github.com/CrambitHazard/Krishna/internal/vector"
	"github.com/CrambitHazard/Krishna/internal/watcher"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/krishna/config.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("krishna version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: krishna <command> [flags]

Commands:
  server    Run the HTTP API server
  ingest    Ingest a file or directory into the index
  search    Query the index from the command line
  status    Show index and storage statistics
  version   Print version
  help      Show this help
`)
}

// loadConfig loads the config at path. When path is the default, a
// config.yaml in the current directory takes precedence (development
// convenience); when neither exists, built-in defaults are used.
func loadConfig(path string) (*config.Config, string) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	if _, err := os.Stat(path); err != nil {
		return config.Default(""), "(defaults)"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config %s: %v\n", path, err)
		os.Exit(1)
	}
	return cfg, path
}

// components holds the wired application core.
type components struct {
	cfg      *config.Config
	logger   *zap.Logger
	engine   *embedding.Engine
	index    *vector.Store
	store    *storage.SQLiteStore
	blobs    *storage.DiskStore
	pipeline *ingest.Pipeline
	planner  *retrieval.Planner
}

func (c *components) Close() {
	if c.store != nil {
		_ = c.store.Close()
	}
	if c.engine != nil {
		_ = c.engine.Close()
	}
	_ = c.logger.Sync()
}

// embedderFactory selects the configured backend.
func embedderFactory(cfg *config.Config) embedding.Factory {
	e := cfg.Embedding
	switch e.Provider {
	case "openai":
		return func() (embedding.Provider, error) {
			return embedding.NewOpenAIEmbedder(e.APIKey, e.BaseURL, e.Model, e.Dimensions, e.CacheSize)
		}
	case "mock":
		return func() (embedding.Provider, error) {
			return embedding.NewMockEmbedder(e.Dimensions), nil
		}
	default: // onnx
		return func() (embedding.Provider, error) {
			return embedding.NewONNXEmbedder(e.ModelPath, e.Dimensions, e.MaxTokens, e.CacheSize)
		}
	}
}

// initComponents wires the core. Embedding initialization happens here,
// explicitly, so a broken model fails the process at startup instead of on
// the first request.
func initComponents(cfg *config.Config, debug bool) *components {
	log, err := logger.New(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	metrics.Register()

	engine := embedding.NewEngine(cfg.Embedding.Provider, cfg.Embedding.Dimensions, embedderFactory(cfg))
	if err := engine.Init(context.Background()); err != nil {
		log.Fatal("embedding initialization failed", zap.Error(err))
	}

	index, err := vector.NewStore(cfg.Storage.IndexDir(), engine, log)
	if err != nil {
		log.Fatal("vector index initialization failed", zap.Error(err))
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatal("database initialization failed", zap.Error(err))
	}
	blobs, err := storage.NewDiskStore(cfg.Storage.UploadsDir)
	if err != nil {
		log.Fatal("uploads dir initialization failed", zap.Error(err))
	}

	pipeline := ingest.NewPipeline(index, store, blobs,
		cfg.Chunking.TargetSize, cfg.Chunking.MaxSize, cfg.Chunking.Overlap, log)
	planner := retrieval.NewPlanner(engine, index, log,
		cfg.Retrieval.DefaultTopK, cfg.Retrieval.MaxQueryLength, cfg.Retrieval.RelevanceThreshold)

	return &components{
		cfg:      cfg,
		logger:   log,
		engine:   engine,
		index:    index,
		store:    store,
		blobs:    blobs,
		pipeline: pipeline,
		planner:  planner,
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolved := loadConfig(*configPath)
	c := initComponents(cfg, *debug)
	defer c.Close()
	c.logger.Info("config loaded", zap.String("config_path", resolved))

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watch *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		watch = watcher.New(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				if _, err := c.pipeline.IngestFile(context.Background(), path); err != nil {
					c.logger.Warn("watched file ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			c.logger,
		)
		if err := watch.Start(watchCtx); err != nil {
			c.logger.Fatal("failed to start watcher", zap.Error(err))
		}
		watch.SyncExisting()
	}

	srv := server.NewServer(c.pipeline, c.planner, c.engine, c.index, c.store, cfg, c.logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	c.logger.Info("shutting down")
	if watch != nil {
		watch.Stop()
	}
	// Final snapshot before exit; the in-memory index may be ahead of disk
	// if a best-effort flush failed earlier.
	if err := c.index.Save(); err != nil {
		c.logger.Warn("final index snapshot failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	recursive := fs.Bool("recursive", true, "recurse into subdirectories")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: krishna ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}

	cfg, _ := loadConfig(*configPath)
	c := initComponents(cfg, false)
	defer c.Close()

	ctx := context.Background()
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot access %s: %v\n", path, err)
			os.Exit(1)
		}
		if info.IsDir() {
			count, err := c.pipeline.IngestDirectory(ctx, path, *recursive)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Ingest of %s failed: %v\n", path, err)
				os.Exit(1)
			}
			fmt.Printf("Ingested %d files from %s\n", count, path)
			continue
		}
		res, err := c.pipeline.IngestFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest of %s failed: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %s: document %s, %d chunks\n", res.Filename, res.DocumentID, res.TotalChunks)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	topK := fs.Int("top-k", 0, "number of results (0 = configured default)")
	threshold := fs.Float64("threshold", -1, "relevance threshold (-1 = configured default)")
	plan := fs.Bool("plan", false, "apply the relevance threshold and print the retrieval strategy")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: krishna search [flags] <query>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))

	cfg, _ := loadConfig(*configPath)
	c := initComponents(cfg, false)
	defer c.Close()

	ctx := context.Background()
	if *plan {
		p, err := c.planner.Plan(ctx, query, *topK, *threshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Strategy: %s\n", p.Strategy)
		for i, chunk := range p.Chunks {
			fmt.Printf("%2d. [%.4f] %s\n", i+1, chunk.Score, firstLine(chunk.Text))
		}
		return
	}

	results, err := c.planner.Search(ctx, query, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, res := range results {
		fmt.Printf("%2d. [%.4f] %s\n", i+1, res.Score, firstLine(res.Text))
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, resolved := loadConfig(*configPath)
	log, err := logger.New(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// The snapshot can be inspected without loading a real embedding model.
	index, err := vector.NewStore(cfg.Storage.IndexDir(),
		embedding.NewMockEmbedder(cfg.Embedding.Dimensions), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open index: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	docs, err := store.CountDocuments(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count documents: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Config:          %s\n", resolved)
	fmt.Printf("Documents:       %d\n", docs)
	fmt.Printf("Indexed chunks:  %d\n", index.Total())
	fmt.Printf("Dimensions:      %d\n", cfg.Embedding.Dimensions)
	if bytes, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath, cfg.Storage.IndexDir(), cfg.Storage.UploadsDir); err == nil {
		fmt.Printf("Disk usage:      %.1f MiB\n", float64(bytes)/(1<<20))
	}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len([]rune(text)) > 120 {
		return string([]rune(text)[:120]) + "…"
	}
	return text
}
