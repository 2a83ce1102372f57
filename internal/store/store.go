// Package store provides the persistent attempt archive.
package store

import (
	"context"
	"time"

	"quizpilot/internal/domain"
)

// Attempt is one archived submission-cycle row.
type Attempt struct {
	ID          string            `json:"id"`
	Identity    string            `json:"identity"`
	URL         string            `json:"url"`
	Question    string            `json:"question"`
	Answer      string            `json:"answer"`
	AnswerType  string            `json:"answer_type"`
	RawResponse string            `json:"raw_response,omitempty"`
	Outcome     domain.OutcomeTag `json:"outcome"`
	Failure     string            `json:"failure,omitempty"`
	Seq         int               `json:"seq"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Repository defines the interface for persisting attempt evidence.
type Repository interface {
	// SaveAttempt archives one attempt record for a session.
	SaveAttempt(ctx context.Context, key domain.SessionKey, seq int, rec domain.AttemptRecord) error

	// RecentAttempts returns up to limit archived attempts, newest first.
	RecentAttempts(ctx context.Context, limit int) ([]*Attempt, error)

	// PurgeOlderThan removes archived attempts older than age.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
