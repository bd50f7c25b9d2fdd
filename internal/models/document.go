// Package models defines shared data structures for documents, retrieval, and progress.
package models

import "time"

// Document is the bookkeeping record for an ingested document.
// The indexed text itself lives in the vector index's chunk records.
type Document struct {
	ID         string                 `json:"id" db:"id"`
	Filename   string                 `json:"filename" db:"filename"`
	ChunkCount int                    `json:"chunk_count" db:"chunk_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
}
