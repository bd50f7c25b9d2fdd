// Package storage provides SQLite persistence for document bookkeeping,
// quiz attempts, learning progress, and sessions, plus a disk blob store
// for raw uploads.
package storage

import (
	"context"

	"github.com/CrambitHazard/Krishna/internal/models"
)

// Store defines the persistence operations backing the API surface.
// The indexed chunk text itself lives in the vector index, not here.
type Store interface {
	// Document bookkeeping
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int64, error)

	// Quiz bookkeeping
	SaveQuizAttempt(ctx context.Context, attempt *models.QuizAttempt) (int64, error)
	ListQuizAttempts(ctx context.Context, sessionID, topic string, limit int) ([]*models.QuizAttempt, error)
	UpdateProgress(ctx context.Context, topic string, score, total int) (*models.Progress, error)
	GetProgress(ctx context.Context, topic string) ([]*models.Progress, error)

	// Sessions
	CreateSession(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string) error

	Close() error
}
