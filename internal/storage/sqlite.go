package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/CrambitHazard/Krishna/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using SQLite with WAL journaling.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath and ensures the
// schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		last_active TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quiz_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		score INTEGER NOT NULL,
		total INTEGER NOT NULL,
		percentage REAL NOT NULL,
		details TEXT,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quiz_session ON quiz_attempts(session_id);
	CREATE INDEX IF NOT EXISTS idx_quiz_topic ON quiz_attempts(topic);

	CREATE TABLE IF NOT EXISTS progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT UNIQUE NOT NULL,
		accuracy REAL NOT NULL DEFAULT 0.0,
		attempts INTEGER NOT NULL DEFAULT 0,
		total_score INTEGER NOT NULL DEFAULT 0,
		total_questions INTEGER NOT NULL DEFAULT 0,
		last_updated TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertDocument inserts the document or, when the ID already exists
// (watched files are re-ingested in place), refreshes its mutable fields.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, chunk_count, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			chunk_count = excluded.chunk_count,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Filename, doc.ChunkCount, string(metadataJSON), doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, chunk_count, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns documents ordered newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, chunk_count, metadata, created_at, updated_at
		 FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of document records.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var metadataJSON sql.NullString
	err := row.Scan(&doc.ID, &doc.Filename, &doc.ChunkCount, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

// SaveQuizAttempt persists a graded quiz run and returns its row ID.
// Percentage is derived from score/total, rounded to one decimal.
func (s *SQLiteStore) SaveQuizAttempt(ctx context.Context, attempt *models.QuizAttempt) (int64, error) {
	attempt.Percentage = percentage(attempt.Score, attempt.Total)
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}
	var detailsJSON sql.NullString
	if attempt.Details != nil {
		data, err := json.Marshal(attempt.Details)
		if err != nil {
			return 0, fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_attempts (session_id, topic, score, total, percentage, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.SessionID, attempt.Topic, attempt.Score, attempt.Total,
		attempt.Percentage, detailsJSON, attempt.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	attempt.ID = id
	return id, nil
}

// ListQuizAttempts returns attempts newest first, optionally filtered by
// session and/or topic.
func (s *SQLiteStore) ListQuizAttempts(ctx context.Context, sessionID, topic string, limit int) ([]*models.QuizAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, session_id, topic, score, total, percentage, details, timestamp
		 FROM quiz_attempts`
	var clauses []string
	var args []interface{}
	if sessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, sessionID)
	}
	if topic != "" {
		clauses = append(clauses, "topic = ?")
		args = append(args, topic)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.QuizAttempt
	for rows.Next() {
		var a models.QuizAttempt
		var detailsJSON sql.NullString
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Topic, &a.Score, &a.Total,
			&a.Percentage, &detailsJSON, &a.Timestamp); err != nil {
			return nil, err
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &a.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// UpdateProgress folds a quiz result into the per-topic running aggregate
// and returns the updated row. Accuracy is total_score over total_questions
// as a percentage, rounded to one decimal.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, topic string, score, total int) (*models.Progress, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress (topic, accuracy, attempts, total_score, total_questions, last_updated)
		 VALUES (?, ?, 1, ?, ?, ?)
		 ON CONFLICT(topic) DO UPDATE SET
			total_score = total_score + excluded.total_score,
			total_questions = total_questions + excluded.total_questions,
			attempts = attempts + 1,
			accuracy = ROUND(
				CAST(total_score + excluded.total_score AS REAL)
				/ (total_questions + excluded.total_questions) * 100, 1),
			last_updated = excluded.last_updated`,
		topic, percentage(score, total), score, total, now,
	)
	if err != nil {
		return nil, err
	}

	var p models.Progress
	err = s.db.QueryRowContext(ctx,
		`SELECT topic, accuracy, attempts, total_score, total_questions, last_updated
		 FROM progress WHERE topic = ?`, topic,
	).Scan(&p.Topic, &p.Accuracy, &p.Attempts, &p.TotalScore, &p.TotalQuestions, &p.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProgress returns progress for one topic, or all topics (most recently
// updated first) when topic is empty.
func (s *SQLiteStore) GetProgress(ctx context.Context, topic string) ([]*models.Progress, error) {
	query := `SELECT topic, accuracy, attempts, total_score, total_questions, last_updated FROM progress`
	var args []interface{}
	if topic != "" {
		query += " WHERE topic = ?"
		args = append(args, topic)
	} else {
		query += " ORDER BY last_updated DESC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Progress
	for rows.Next() {
		var p models.Progress
		if err := rows.Scan(&p.Topic, &p.Accuracy, &p.Attempts, &p.TotalScore,
			&p.TotalQuestions, &p.LastUpdated); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

// CreateSession records a session if it does not already exist.
func (s *SQLiteStore) CreateSession(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at, last_active) VALUES (?, ?, ?)`,
		id, now, now)
	return err
}

// TouchSession refreshes a session's last_active timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(score)/float64(total)*1000) / 10
}
