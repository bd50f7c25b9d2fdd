package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/CrambitHazard/Krishna/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:         "doc-1",
		Filename:   "notes.pdf",
		ChunkCount: 4,
		Metadata:   map[string]interface{}{"source": "upload"},
	}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument failed: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Filename != "notes.pdf" || got.ChunkCount != 4 {
		t.Errorf("got %+v", got)
	}
	if got.Metadata["source"] != "upload" {
		t.Errorf("metadata not restored: %v", got.Metadata)
	}

	// Re-ingest replaces mutable fields under the same ID.
	doc.ChunkCount = 7
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("second UpsertDocument failed: %v", err)
	}
	got, err = s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.ChunkCount != 7 {
		t.Errorf("chunk_count = %d after upsert, want 7", got.ChunkCount)
	}

	n, err := s.CountDocuments(ctx)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountDocuments = %d, want 1", n)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetDocument(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListDocumentsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertDocument(ctx, &models.Document{ID: id, Filename: id + ".txt"}); err != nil {
			t.Fatalf("UpsertDocument failed: %v", err)
		}
	}
	docs, err := s.ListDocuments(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
}

func TestQuizAttemptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveQuizAttempt(ctx, &models.QuizAttempt{
		SessionID: "sess-1",
		Topic:     "photosynthesis",
		Score:     7,
		Total:     10,
		Details:   map[string]interface{}{"q1": "correct"},
	})
	if err != nil {
		t.Fatalf("SaveQuizAttempt failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("row id = %d, want positive", id)
	}

	attempts, err := s.ListQuizAttempts(ctx, "sess-1", "", 10)
	if err != nil {
		t.Fatalf("ListQuizAttempts failed: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("got %d attempts, want 1", len(attempts))
	}
	a := attempts[0]
	if a.Percentage != 70.0 {
		t.Errorf("percentage = %f, want 70.0", a.Percentage)
	}
	if a.Details["q1"] != "correct" {
		t.Errorf("details not restored: %v", a.Details)
	}

	// Filtering by a different topic yields nothing.
	none, err := s.ListQuizAttempts(ctx, "sess-1", "algebra", 10)
	if err != nil {
		t.Fatalf("ListQuizAttempts failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d attempts for wrong topic, want 0", len(none))
	}
}

func TestProgressUpsertAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpdateProgress(ctx, "algebra", 8, 10)
	if err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if first.Attempts != 1 || first.Accuracy != 80.0 {
		t.Errorf("first update: %+v", first)
	}

	second, err := s.UpdateProgress(ctx, "algebra", 4, 10)
	if err != nil {
		t.Fatalf("second UpdateProgress failed: %v", err)
	}
	if second.Attempts != 2 || second.TotalScore != 12 || second.TotalQuestions != 20 {
		t.Errorf("second update: %+v", second)
	}
	if second.Accuracy != 60.0 {
		t.Errorf("accuracy = %f, want 60.0", second.Accuracy)
	}

	all, err := s.GetProgress(ctx, "")
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if len(all) != 1 || all[0].Topic != "algebra" {
		t.Errorf("GetProgress(all) = %+v", all)
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, "sess-1"); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	// Idempotent.
	if err := s.CreateSession(ctx, "sess-1"); err != nil {
		t.Fatalf("second CreateSession failed: %v", err)
	}
	var before time.Time
	if err := s.db.QueryRowContext(ctx,
		`SELECT last_active FROM sessions WHERE id = ?`, "sess-1").Scan(&before); err != nil {
		t.Fatalf("read last_active failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := s.TouchSession(ctx, "sess-1"); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}

	var after time.Time
	if err := s.db.QueryRowContext(ctx,
		`SELECT last_active FROM sessions WHERE id = ?`, "sess-1").Scan(&after); err != nil {
		t.Fatalf("read last_active failed: %v", err)
	}
	if !after.After(before) {
		t.Errorf("last_active not advanced: before %v, after %v", before, after)
	}
}
