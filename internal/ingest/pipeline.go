// Package ingest turns raw documents into indexed, retrievable chunks.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CrambitHazard/Krishna/internal/extract"
	"github.com/CrambitHazard/Krishna/internal/metrics"
	"github.com/CrambitHazard/Krishna/internal/models"
	"github.com/CrambitHazard/Krishna/internal/storage"
	"github.com/CrambitHazard/Krishna/internal/vector"
)

// Result summarizes one ingested document.
type Result struct {
	DocumentID  string   `json:"document_id"`
	Filename    string   `json:"filename"`
	TotalChunks int      `json:"total_chunks"`
	ChunkIDs    []uint64 `json:"chunk_ids"`
}

// Pipeline composes extraction, chunking, embedding, and indexing into the
// write path. Uploaded documents get UUID identifiers and their raw bytes
// kept in the blob store; watched files get stable path-derived identifiers
// so re-ingesting the same path updates the same document record.
type Pipeline struct {
	index  *vector.Store
	docs   storage.Store
	blobs  *storage.DiskStore
	logger *zap.Logger

	target  int
	max     int
	overlap int
}

// NewPipeline creates a pipeline. blobs may be nil when raw uploads should
// not be retained.
func NewPipeline(index *vector.Store, docs storage.Store, blobs *storage.DiskStore, target, max, overlap int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		index:   index,
		docs:    docs,
		blobs:   blobs,
		logger:  logger,
		target:  target,
		max:     max,
		overlap: overlap,
	}
}

// Ingest processes an uploaded document: extract text, chunk, embed, index,
// record, and retain the raw bytes.
func (p *Pipeline) Ingest(ctx context.Context, filename string, raw []byte) (*Result, error) {
	name := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !extract.Supported(ext) {
		metrics.IngestDocumentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, ext)
	}
	res, err := p.process(ctx, uuid.NewString(), name, ext, raw)
	if err != nil {
		return nil, err
	}
	if p.blobs != nil {
		if _, err := p.blobs.Save(res.DocumentID, ext, raw); err != nil {
			// The document is already indexed; losing the raw blob only
			// affects re-processing.
			p.logger.Warn("failed to retain raw upload", zap.String("document_id", res.DocumentID), zap.Error(err))
		}
	}
	return res, nil
}

// IngestFile processes a file on disk, typically from a watched directory.
// The document ID is a stable hash of the absolute path.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !extract.Supported(ext) {
		metrics.IngestDocumentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, ext)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		metrics.IngestDocumentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.process(ctx, fileDocID(path), filepath.Base(path), ext, raw)
}

// IngestDirectory ingests every supported file under dir. Per-file failures
// are logged and skipped; the walk continues. Returns the number of files
// successfully ingested.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, recursive bool) (int, error) {
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !extract.Supported(filepath.Ext(path)) {
			return nil
		}
		if _, err := p.IngestFile(ctx, path); err != nil {
			p.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		count++
		return nil
	})
	return count, err
}

func (p *Pipeline) process(ctx context.Context, docID, name, ext string, raw []byte) (*Result, error) {
	text, err := extract.Text(raw, ext)
	if err != nil {
		metrics.IngestDocumentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}
	chunks := Chunk(text, p.target, p.max, p.overlap)

	metadatas := make([]map[string]interface{}, len(chunks))
	for i := range chunks {
		metadatas[i] = map[string]interface{}{
			"document_id": docID,
			"filename":    name,
			"chunk_index": i,
		}
	}
	ids, err := p.index.Add(ctx, chunks, metadatas)
	if err != nil {
		metrics.IngestDocumentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("index %s: %w", name, err)
	}

	if p.docs != nil {
		doc := &models.Document{
			ID:         docID,
			Filename:   name,
			ChunkCount: len(chunks),
			Metadata:   map[string]interface{}{"extension": ext},
		}
		if err := p.docs.UpsertDocument(ctx, doc); err != nil {
			p.logger.Warn("failed to record document", zap.String("document_id", docID), zap.Error(err))
		}
	}

	metrics.IngestDocumentsTotal.WithLabelValues("success").Inc()
	metrics.IngestChunksTotal.Add(float64(len(chunks)))
	p.logger.Info("document ingested",
		zap.String("document_id", docID),
		zap.String("filename", name),
		zap.Int("chunks", len(chunks)))

	return &Result{
		DocumentID:  docID,
		Filename:    name,
		TotalChunks: len(chunks),
		ChunkIDs:    ids,
	}, nil
}

// fileDocID derives a stable document ID from a file path, so the same
// watched file always maps to the same document.
func fileDocID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8])
}
