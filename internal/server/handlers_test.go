package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/CrambitHazard/Krishna/internal/config"
	"github.com/CrambitHazard/Krishna/internal/embedding"
	"github.com/CrambitHazard/Krishna/internal/ingest"
	"github.com/CrambitHazard/Krishna/internal/retrieval"
	"github.com/CrambitHazard/Krishna/internal/storage"
	"github.com/CrambitHazard/Krishna/internal/vector"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 128
	logger := zap.NewNop()

	engine := embedding.NewEngine("mock", 128, func() (embedding.Provider, error) {
		return embedding.NewMockEmbedder(128), nil
	})
	if err := engine.Init(context.Background()); err != nil {
		t.Fatalf("engine init failed: %v", err)
	}

	index, err := vector.NewStore(cfg.Storage.IndexDir(), engine, logger)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	blobs, err := storage.NewDiskStore(cfg.Storage.UploadsDir)
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	pipeline := ingest.NewPipeline(index, store, blobs,
		cfg.Chunking.TargetSize, cfg.Chunking.MaxSize, cfg.Chunking.Overlap, logger)
	planner := retrieval.NewPlanner(engine, index, logger,
		cfg.Retrieval.DefaultTopK, cfg.Retrieval.MaxQueryLength, cfg.Retrieval.RelevanceThreshold)

	srv := NewServer(pipeline, planner, engine, index, store, cfg, logger)
	return srv, srv.Router()
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var parsed map[string]interface{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("response not JSON: %v: %s", err, rr.Body.String())
		}
	}
	return rr, parsed
}

func TestUploadAndRetrieve(t *testing.T) {
	_, h := newTestServer(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "facts.txt",
		"The sky is blue.\n\nGrass is green.\n\nWater is wet."))
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rr.Code, rr.Body.String())
	}
	var uploaded map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &uploaded); err != nil {
		t.Fatal(err)
	}
	if uploaded["document_id"] == "" {
		t.Error("missing document_id in upload response")
	}

	rr2, resp := doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"query":     "sky color",
		"top_k":     3,
		"threshold": 0.05,
	})
	if rr2.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d: %s", rr2.Code, rr2.Body.String())
	}
	strategy, _ := resp["strategy"].(string)
	if !strings.HasPrefix(strategy, "dense_retrieval(") {
		t.Errorf("strategy = %q", strategy)
	}
	chunks, _ := resp["chunks"].([]interface{})
	if len(chunks) == 0 {
		t.Fatal("no chunks retrieved")
	}
	top, _ := chunks[0].(map[string]interface{})
	if text, _ := top["text"].(string); !strings.Contains(text, "The sky is blue.") {
		t.Errorf("top chunk text = %q", text)
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	_, h := newTestServer(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "virus.exe", "MZ"))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rr.Code)
	}
}

func TestSearchMalformedQuery(t *testing.T) {
	_, h := newTestServer(t)

	rr, _ := doJSON(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query": "   ",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rr.Code)
	}

	rr2, _ := doJSON(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query": strings.Repeat("q", 5000),
	})
	if rr2.Code != http.StatusBadRequest {
		t.Errorf("oversized query status = %d, want 400", rr2.Code)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	_, h := newTestServer(t)

	rr, resp := doJSON(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query": "anything at all",
		"top_k": 5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for empty index", rr.Code)
	}
	if total, _ := resp["total"].(float64); total != 0 {
		t.Errorf("total = %v, want 0", resp["total"])
	}
}

func TestListDocuments(t *testing.T) {
	_, h := newTestServer(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "a.txt", "alpha content"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload failed: %s", rr.Body.String())
	}

	rr2, resp := doJSON(t, h, http.MethodGet, "/api/v1/documents", nil)
	if rr2.Code != http.StatusOK {
		t.Fatalf("status = %d", rr2.Code)
	}
	if total, _ := resp["total"].(float64); total != 1 {
		t.Errorf("total = %v, want 1", resp["total"])
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	_, h := newTestServer(t)

	rr, _ := doJSON(t, h, http.MethodGet, "/api/v1/documents/nonexistent", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestQuizAttemptFlow(t *testing.T) {
	_, h := newTestServer(t)

	rr, resp := doJSON(t, h, http.MethodPost, "/api/v1/quiz/attempts", map[string]interface{}{
		"topic": "biology",
		"score": 8,
		"total": 10,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if pct, _ := resp["percentage"].(float64); pct != 80.0 {
		t.Errorf("percentage = %v, want 80", resp["percentage"])
	}
	if sid, _ := resp["session_id"].(string); sid == "" {
		t.Error("session_id not generated")
	}

	rr2, progress := doJSON(t, h, http.MethodGet, "/api/v1/quiz/progress?topic=biology", nil)
	if rr2.Code != http.StatusOK {
		t.Fatalf("progress status = %d", rr2.Code)
	}
	if total, _ := progress["total"].(float64); total != 1 {
		t.Errorf("progress total = %v, want 1", progress["total"])
	}
}

type sessionSpy struct {
	storage.Store
	mu      sync.Mutex
	touched []string
}

func (s *sessionSpy) TouchSession(ctx context.Context, id string) error {
	s.mu.Lock()
	s.touched = append(s.touched, id)
	s.mu.Unlock()
	return s.Store.TouchSession(ctx, id)
}

func TestQuizAttemptTouchesSession(t *testing.T) {
	cfg := config.Default(t.TempDir())
	logger := zap.NewNop()

	engine := embedding.NewEngine("mock", 32, func() (embedding.Provider, error) {
		return embedding.NewMockEmbedder(32), nil
	})
	index, err := vector.NewStore("", engine, logger)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	sqlStore, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	spy := &sessionSpy{Store: sqlStore}
	blobs, err := storage.NewDiskStore(cfg.Storage.UploadsDir)
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	pipeline := ingest.NewPipeline(index, spy, blobs,
		cfg.Chunking.TargetSize, cfg.Chunking.MaxSize, cfg.Chunking.Overlap, logger)
	planner := retrieval.NewPlanner(engine, index, logger,
		cfg.Retrieval.DefaultTopK, cfg.Retrieval.MaxQueryLength, cfg.Retrieval.RelevanceThreshold)
	srv := NewServer(pipeline, planner, engine, index, spy, cfg, logger)
	h := srv.Router()

	rr, _ := doJSON(t, h, http.MethodPost, "/api/v1/quiz/attempts", map[string]interface{}{
		"session_id": "sess-9",
		"topic":      "math",
		"score":      1,
		"total":      2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.touched) != 1 || spy.touched[0] != "sess-9" {
		t.Errorf("touched sessions = %v, want [sess-9]", spy.touched)
	}
}

func TestQuizAttemptValidation(t *testing.T) {
	_, h := newTestServer(t)

	cases := []map[string]interface{}{
		{"topic": "", "score": 1, "total": 2},
		{"topic": "math", "score": -1, "total": 5},
		{"topic": "math", "score": 6, "total": 5},
		{"topic": "math", "score": 1, "total": 0},
	}
	for _, payload := range cases {
		rr, _ := doJSON(t, h, http.MethodPost, "/api/v1/quiz/attempts", payload)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("payload %v: status = %d, want 400", payload, rr.Code)
		}
	}
}

func TestStatusAndHealth(t *testing.T) {
	_, h := newTestServer(t)

	rr, resp := doJSON(t, h, http.MethodGet, "/api/v1/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if state, _ := resp["embedding_state"].(string); state != "ready" {
		t.Errorf("embedding_state = %q, want ready", state)
	}

	rr2, health := doJSON(t, h, http.MethodGet, "/health", nil)
	if rr2.Code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", rr2.Code, health)
	}
}
