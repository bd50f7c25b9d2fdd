package models

import "time"

// QuizAttempt is a single graded quiz run for a session and topic.
type QuizAttempt struct {
	ID         int64                  `json:"id" db:"id"`
	SessionID  string                 `json:"session_id" db:"session_id"`
	Topic      string                 `json:"topic" db:"topic"`
	Score      int                    `json:"score" db:"score"`
	Total      int                    `json:"total" db:"total"`
	Percentage float64                `json:"percentage" db:"percentage"`
	Details    map[string]interface{} `json:"details,omitempty" db:"details"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
}

// Progress is the per-topic running accuracy aggregate.
type Progress struct {
	Topic          string    `json:"topic" db:"topic"`
	Accuracy       float64   `json:"accuracy" db:"accuracy"`
	Attempts       int       `json:"attempts" db:"attempts"`
	TotalScore     int       `json:"total_score" db:"total_score"`
	TotalQuestions int       `json:"total_questions" db:"total_questions"`
	LastUpdated    time.Time `json:"last_updated" db:"last_updated"`
}
