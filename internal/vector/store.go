// Package vector provides an exact inner-product index over chunk embeddings
// with snapshot persistence.
package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/CrambitHazard/Krishna/internal/embedding"
	"github.com/CrambitHazard/Krishna/internal/metrics"
)

const (
	vectorsFile = "vectors.bin"
	recordsFile = "records.json"
)

// ChunkRecord is the stored payload for one indexed chunk. Records are kept
// positionally aligned with the vector matrix: row i of the matrix is the
// embedding of records[i].
type ChunkRecord struct {
	ID       uint64                 `json:"chunk_id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	ID       uint64                 `json:"chunk_id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Store is an in-memory brute-force inner-product index. All vectors are
// unit-normalized by the embedder, so inner product equals cosine similarity.
// Chunk IDs come from a monotonic counter that survives snapshots and never
// depends on row position.
type Store struct {
	dimensions int
	embedder   embedding.Provider
	dir        string
	logger     *zap.Logger

	mu      sync.RWMutex
	vectors [][]float32
	records []ChunkRecord
	nextID  uint64
}

type snapshot struct {
	NextID  uint64        `json:"next_id"`
	Records []ChunkRecord `json:"records"`
}

// NewStore creates a store backed by the snapshot files under dir, loading
// any existing snapshot. A snapshot that cannot be parsed, or whose two
// artifacts disagree in length, is discarded and the store starts empty; a
// snapshot whose dimension disagrees with the embedder's is a configuration
// error and fails construction. dir may be empty for a purely in-memory store.
func NewStore(dir string, embedder embedding.Provider, logger *zap.Logger) (*Store, error) {
	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("embedder reports non-positive dimension %d", dims)
	}
	s := &Store{
		dimensions: dims,
		embedder:   embedder,
		dir:        dir,
		logger:     logger,
	}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	if err := s.load(); err != nil {
		var dimErr *dimensionError
		if errors.As(err, &dimErr) {
			return nil, fmt.Errorf("%w: snapshot has %d, embedder produces %d",
				embedding.ErrDimensionMismatch, dimErr.stored, dims)
		}
		logger.Warn("discarding unreadable index snapshot, starting empty",
			zap.String("dir", dir), zap.Error(err))
		metrics.IndexLoadFailuresTotal.Inc()
		s.vectors = nil
		s.records = nil
		s.nextID = 0
	}
	return s, nil
}

type dimensionError struct {
	stored int
}

func (e *dimensionError) Error() string {
	return fmt.Sprintf("snapshot dimension %d", e.stored)
}

// Dimensions returns the embedding dimension the store was built for.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// Total returns the number of indexed chunks.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Add embeds texts and appends them to the index with the given per-chunk
// metadata. metadatas may be nil or shorter than texts; chunks past its end
// get no metadata. It returns the assigned chunk IDs. An empty texts slice
// is a no-op and does not touch the snapshot. The snapshot is rewritten
// after a successful append; a write failure is logged and counted but does
// not fail the call, so the in-memory index can run ahead of disk.
func (s *Store) Add(ctx context.Context, texts []string, metadatas []map[string]interface{}) ([]uint64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Embed outside the lock; searches stay live during model inference.
	embs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	for i, emb := range embs {
		if len(emb) != s.dimensions {
			return nil, fmt.Errorf("%w: chunk %d embedded to %d, index expects %d",
				embedding.ErrDimensionMismatch, i, len(emb), s.dimensions)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, len(texts))
	for i, text := range texts {
		ids[i] = s.nextID
		s.nextID++
		var meta map[string]interface{}
		if i < len(metadatas) {
			meta = metadatas[i]
		}
		vec := make([]float32, s.dimensions)
		copy(vec, embs[i])
		s.vectors = append(s.vectors, vec)
		s.records = append(s.records, ChunkRecord{ID: ids[i], Text: text, Metadata: meta})
	}

	if err := s.flushLocked(); err != nil {
		s.logger.Error("index snapshot write failed, continuing in memory",
			zap.String("dir", s.dir), zap.Error(err))
		metrics.IndexFlushFailuresTotal.Inc()
	}
	return ids, nil
}

// Search returns the top-k records by inner product with the query vector,
// highest first. Equal scores keep insertion order. k larger than the index
// returns everything; an empty index returns nothing.
func (s *Store) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d",
			embedding.ErrDimensionMismatch, len(query), s.dimensions)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.records) == 0 {
		return nil, nil
	}

	type scored struct {
		row   int
		score float64
	}
	scores := make([]scored, len(s.vectors))
	for i, vec := range s.vectors {
		var dot float64
		for j := 0; j < s.dimensions; j++ {
			dot += float64(query[j]) * float64(vec[j])
		}
		scores[i] = scored{row: i, score: dot}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if k > len(scores) {
		k = len(scores)
	}
	results := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		rec := s.records[scores[i].row]
		results[i] = SearchResult{
			ID:       rec.ID,
			Text:     rec.Text,
			Score:    scores[i].score,
			Metadata: rec.Metadata,
		}
	}
	return results, nil
}

// Save rewrites the snapshot synchronously and reports any failure. Used at
// shutdown, where a silent best-effort write is not good enough.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushLocked()
}

// flushLocked rewrites both snapshot artifacts wholesale. Each file is
// written to a temp name and renamed into place, so a crash mid-write leaves
// either the old artifact or the new one, never a torn file.
func (s *Store) flushLocked() error {
	if s.dir == "" {
		return nil
	}
	if err := s.writeVectors(); err != nil {
		return err
	}
	return s.writeRecords()
}

func (s *Store) writeVectors() error {
	path := filepath.Join(s.dir, vectorsFile)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(s.dimensions)); err != nil {
		f.Close()
		return fmt.Errorf("write dimension header: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(s.vectors))); err != nil {
		f.Close()
		return fmt.Errorf("write count header: %w", err)
	}
	for _, vec := range s.vectors {
		if _, err := f.Write(float32SliceToBytes(vec)); err != nil {
			f.Close()
			return fmt.Errorf("write vector row: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close vectors file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace vectors file: %w", err)
	}
	return nil
}

func (s *Store) writeRecords() error {
	path := filepath.Join(s.dir, recordsFile)
	tmp := path + ".tmp"
	data, err := json.Marshal(snapshot{NextID: s.nextID, Records: s.records})
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write records file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace records file: %w", err)
	}
	return nil
}

// load reads both artifacts and replaces the in-memory state. Missing files
// mean a fresh index. A *dimensionError is returned only for a stored
// dimension that disagrees with the embedder; every other failure is generic
// corruption the caller falls back from.
func (s *Store) load() error {
	recData, err := os.ReadFile(filepath.Join(s.dir, recordsFile))
	if os.IsNotExist(err) {
		// A fresh index has neither artifact. Vectors without records is a
		// half-lost snapshot, not a fresh start.
		if _, verr := os.Stat(filepath.Join(s.dir, vectorsFile)); verr == nil {
			return fmt.Errorf("%s present but %s missing", vectorsFile, recordsFile)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read records file: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(recData, &snap); err != nil {
		return fmt.Errorf("decode records file: %w", err)
	}

	f, err := os.Open(filepath.Join(s.dir, vectorsFile))
	if err != nil {
		return fmt.Errorf("open vectors file: %w", err)
	}
	defer f.Close()

	var dim, count uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimension header: %w", err)
	}
	if int(dim) != s.dimensions {
		return &dimensionError{stored: int(dim)}
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("read count header: %w", err)
	}
	if int(count) != len(snap.Records) {
		return fmt.Errorf("snapshot artifacts disagree: %d vectors, %d records", count, len(snap.Records))
	}

	vectors := make([][]float32, 0, count)
	buf := make([]byte, s.dimensions*4)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector row %d: %w", i, err)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}

	s.vectors = vectors
	s.records = snap.Records
	// A stale or hand-edited next_id must never reissue a live chunk ID.
	s.nextID = snap.NextID
	for _, rec := range snap.Records {
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
