package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CrambitHazard/Krishna/internal/extract"
	"github.com/CrambitHazard/Krishna/internal/models"
	"github.com/CrambitHazard/Krishna/internal/retrieval"
	"github.com/CrambitHazard/Krishna/internal/storage"
)

const maxUploadBytes = 32 << 20

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	res, err := s.pipeline.Ingest(r.Context(), header.Filename, raw)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			s.respondError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		s.logger.Error("ingest failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"document_id":  res.DocumentID,
		"filename":     res.Filename,
		"total_chunks": res.TotalChunks,
		"chunk_ids":    res.ChunkIDs,
		"uploaded_at":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	docs, err := s.store.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     len(docs),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("get document failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	results, err := s.planner.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		if errors.Is(err, retrieval.ErrMalformedQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

type retrieveRequest struct {
	Query     string   `json:"query"`
	TopK      int      `json:"top_k"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	threshold := -1.0 // planner substitutes its configured default
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	plan, err := s.planner.Plan(r.Context(), req.Query, req.TopK, threshold)
	if err != nil {
		if errors.Is(err, retrieval.ErrMalformedQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("retrieve failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"chunks":   plan.Chunks,
		"strategy": plan.Strategy,
		"total":    len(plan.Chunks),
	})
}

type quizAttemptRequest struct {
	SessionID string                 `json:"session_id"`
	Topic     string                 `json:"topic"`
	Score     int                    `json:"score"`
	Total     int                    `json:"total"`
	Details   map[string]interface{} `json:"details"`
}

func (s *Server) handleSaveQuizAttempt(w http.ResponseWriter, r *http.Request) {
	var req quizAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		s.respondError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if req.Total <= 0 || req.Score < 0 || req.Score > req.Total {
		s.respondError(w, http.StatusBadRequest, "score must be within 0..total and total positive")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx := r.Context()
	if err := s.store.CreateSession(ctx, req.SessionID); err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to record session")
		return
	}
	if err := s.store.TouchSession(ctx, req.SessionID); err != nil {
		s.logger.Warn("touch session failed",
			zap.String("session_id", req.SessionID), zap.Error(err))
	}

	attempt := &models.QuizAttempt{
		SessionID: req.SessionID,
		Topic:     req.Topic,
		Score:     req.Score,
		Total:     req.Total,
		Details:   req.Details,
	}
	id, err := s.store.SaveQuizAttempt(ctx, attempt)
	if err != nil {
		s.logger.Error("save quiz attempt failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to save attempt")
		return
	}
	progress, err := s.store.UpdateProgress(ctx, req.Topic, req.Score, req.Total)
	if err != nil {
		s.logger.Error("update progress failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to update progress")
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"attempt_id": id,
		"session_id": req.SessionID,
		"percentage": attempt.Percentage,
		"progress":   progress,
	})
}

func (s *Server) handleListQuizAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.store.ListQuizAttempts(r.Context(),
		r.URL.Query().Get("session_id"),
		r.URL.Query().Get("topic"),
		queryInt(r, "limit", 50))
	if err != nil {
		s.logger.Error("list quiz attempts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []*models.QuizAttempt{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"attempts": attempts,
		"total":    len(attempts),
	})
}

func (s *Server) handleQuizProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.store.GetProgress(r.Context(), r.URL.Query().Get("topic"))
	if err != nil {
		s.logger.Error("get progress failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if progress == nil {
		progress = []*models.Progress{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"progress": progress,
		"total":    len(progress),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docCount, err := s.store.CountDocuments(r.Context())
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read status")
		return
	}

	resp := map[string]interface{}{
		"documents":       docCount,
		"indexed_chunks":  s.index.Total(),
		"embedding_state": s.engine.State().String(),
		"config": map[string]interface{}{
			"embedding_provider":   s.cfg.Embedding.Provider,
			"embedding_dimensions": s.cfg.Embedding.Dimensions,
			"chunk_target":         s.cfg.Chunking.TargetSize,
			"chunk_max":            s.cfg.Chunking.MaxSize,
			"chunk_overlap":        s.cfg.Chunking.Overlap,
			"default_top_k":        s.cfg.Retrieval.DefaultTopK,
			"relevance_threshold":  s.cfg.Retrieval.RelevanceThreshold,
		},
	}
	if diskBytes, err := storage.DiskUsageBytes(
		s.cfg.Storage.DatabasePath,
		s.cfg.Storage.IndexDir(),
		s.cfg.Storage.UploadsDir,
	); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
