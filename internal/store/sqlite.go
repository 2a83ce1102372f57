package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"quizpilot/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed attempt archive.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers while pipelines write.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		url TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		answer_type TEXT NOT NULL,
		raw_response TEXT,
		outcome TEXT NOT NULL,
		failure TEXT,
		seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts(created_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_identity ON attempts(identity, url);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveAttempt archives one attempt record.
// Retries with exponential backoff to ride out SQLITE_BUSY while another
// pipeline is mid-write.
func (s *SQLiteStore) SaveAttempt(ctx context.Context, key domain.SessionKey, seq int, rec domain.AttemptRecord) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	answerType := ""
	if rec.Answer.Type != "" {
		answerType = string(rec.Answer.Type)
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attempts (id, identity, url, question, answer, answer_type, raw_response, outcome, failure, seq, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(),
			key.Identity,
			key.URL,
			rec.Question,
			rec.Answer.String(),
			answerType,
			rec.RawResponse,
			string(rec.Outcome),
			string(rec.Failure),
			seq,
			rec.SubmittedAt.Unix(),
		)
		if err == nil {
			return nil
		}
		lastErr = err

		if isBusyError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
			slog.Debug("SaveAttempt hit SQLITE_BUSY, retrying",
				"identity", key.Identity,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		break
	}

	return fmt.Errorf("save attempt for %s: %w", key.Identity, lastErr)
}

// RecentAttempts returns up to limit archived attempts, newest first.
func (s *SQLiteStore) RecentAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, url, question, answer, answer_type, raw_response, outcome, failure, seq, created_at
		FROM attempts
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		var rawResponse, failure sql.NullString
		var createdAt int64
		var outcome string
		if err := rows.Scan(&a.ID, &a.Identity, &a.URL, &a.Question, &a.Answer, &a.AnswerType,
			&rawResponse, &outcome, &failure, &a.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.RawResponse = rawResponse.String
		a.Failure = failure.String
		a.Outcome = domain.OutcomeTag(outcome)
		a.CreatedAt = time.Unix(createdAt, 0)
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// PurgeOlderThan removes archived attempts older than age.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge attempts: %w", err)
	}
	return res.RowsAffected()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isBusyError reports whether err is a SQLite concurrency error that
// warrants a retry.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
