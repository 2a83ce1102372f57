// Package session tracks quiz-solving sessions: one per requester/URL pair,
// with a hard deadline window and per-attempt history.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizpilot/internal/domain"
)

// Archiver persists attempt evidence outside the process. Optional; a nil
// archiver disables archiving.
type Archiver interface {
	SaveAttempt(ctx context.Context, key domain.SessionKey, seq int, rec domain.AttemptRecord) error
}

// Summary is a read-only snapshot of one session for the debug surface. ID
// identifies the session incarnation; pipeline runs present it back to the
// registry so a run whose session was replaced mutates nothing.
type Summary struct {
	ID              string                `json:"id"`
	Identity        string                `json:"identity"`
	URL             string                `json:"url"`
	CurrentURL      string                `json:"current_url"`
	CreatedAt       time.Time             `json:"created_at"`
	ElapsedSeconds  float64               `json:"elapsed_seconds"`
	SubmissionCount int                   `json:"submission_count"`
	TimedOut        bool                  `json:"timeout"`
	Terminal        bool                  `json:"terminal"`
	Outcome         domain.OutcomeTag     `json:"outcome,omitempty"`
	LastAttempt     *domain.AttemptRecord `json:"last_attempt,omitempty"`
}

type entry struct {
	mu sync.Mutex
	s  *domain.Session
}

// Registry owns all session state. Map membership is guarded by the registry
// lock; each session's fields are guarded by its entry lock, so distinct keys
// mutate concurrently while one key stays single-writer.
type Registry struct {
	window  time.Duration
	grace   time.Duration
	archive Archiver

	mu       sync.RWMutex
	sessions map[domain.SessionKey]*entry
}

// NewRegistry creates a registry with the given timeout window and eviction
// grace period.
func NewRegistry(window, grace time.Duration, archive Archiver) *Registry {
	if window <= 0 {
		window = 3 * time.Minute
	}
	if grace <= 0 {
		grace = 30 * time.Minute
	}
	return &Registry{
		window:   window,
		grace:    grace,
		archive:  archive,
		sessions: make(map[domain.SessionKey]*entry),
	}
}

// Window returns the timeout window applied to every session.
func (r *Registry) Window() time.Duration {
	return r.window
}

// GetOrCreate returns the live session for key, creating one when none is
// tracked or the tracked one is terminal or expired. Check-and-create is one
// indivisible operation under the registry lock, so two concurrent solve
// requests for the same key coalesce onto one session. The returned flag
// reports whether a session was created; only the creator should start a
// pipeline.
func (r *Registry) GetOrCreate(key domain.SessionKey, url string, now time.Time) (Summary, bool) {
	r.mu.Lock()
	e, ok := r.sessions[key]
	if ok {
		e.mu.Lock()
		reusable := !e.s.Terminal && !e.s.IsTimedOut(now, r.window)
		if reusable {
			summary := r.summarizeLocked(e.s, now)
			e.mu.Unlock()
			r.mu.Unlock()
			return summary, false
		}
		e.mu.Unlock()
	}

	s := &domain.Session{
		ID:         uuid.NewString(),
		Key:        key,
		CreatedAt:  now,
		CurrentURL: url,
	}
	e = &entry{s: s}
	r.sessions[key] = e
	r.mu.Unlock()

	slog.Info("Session created", "identity", key.Identity, "url", url)
	return r.summarize(e, now), true
}

// CurrentURL returns the current quiz URL of the session incarnation id.
func (r *Registry) CurrentURL(key domain.SessionKey, id string) (string, bool) {
	e := r.lookup(key)
	if e == nil {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.ID != id {
		return "", false
	}
	return e.s.CurrentURL, true
}

// IsTimedOut reports whether the session's deadline has elapsed. Unknown
// keys and superseded incarnations are reported timed out so a stale
// pipeline stops rather than reading the replacement session's clock.
func (r *Registry) IsTimedOut(key domain.SessionKey, id string, now time.Time) bool {
	e := r.lookup(key)
	if e == nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.ID != id {
		return true
	}
	return e.s.IsTimedOut(now, r.window)
}

// RecordAttempt appends one submission cycle's evidence: increments the
// submission count, updates the current URL when the server supplied a
// follow-up, and sets the terminal flag on a final verdict (or when the
// deadline has already passed). Returns the session's terminal state after
// the record. A stale id (the session was replaced) records nothing and
// reports terminal so the caller stops.
func (r *Registry) RecordAttempt(key domain.SessionKey, id string, rec domain.AttemptRecord, nextURL string, now time.Time) bool {
	e := r.lookup(key)
	if e == nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.s
	if s.ID != id {
		return true
	}
	if s.Terminal {
		// Terminal sessions are read-only.
		return true
	}

	s.History = append(s.History, rec)
	s.SubmissionCount++

	switch {
	case s.IsTimedOut(now, r.window):
		s.Terminal = true
		s.Outcome = domain.OutcomeTimeout
	case rec.Outcome == domain.OutcomeError || rec.Outcome == domain.OutcomeTimeout:
		s.Terminal = true
		s.Outcome = rec.Outcome
	case nextURL != "":
		s.CurrentURL = nextURL
	default:
		s.Terminal = true
		s.Outcome = rec.Outcome
	}

	r.archiveAttempt(key, s.SubmissionCount, rec)
	return s.Terminal
}

// RecordFailure appends a failed pipeline cycle that never reached
// submission. The submission count stays untouched; the session turns
// terminal with an error (or timeout) outcome.
func (r *Registry) RecordFailure(key domain.SessionKey, id string, question string, kind domain.FailureKind, now time.Time) {
	e := r.lookup(key)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.s
	if s.ID != id || s.Terminal {
		return
	}

	outcome := domain.OutcomeError
	if kind == domain.FailureTimedOut {
		outcome = domain.OutcomeTimeout
	}
	rec := domain.AttemptRecord{
		Question:    question,
		Outcome:     outcome,
		Failure:     kind,
		SubmittedAt: now,
	}
	s.History = append(s.History, rec)
	s.Terminal = true
	s.Outcome = outcome

	r.archiveAttempt(key, s.SubmissionCount, rec)
}

// MarkTimedOut forces the session terminal with a timeout outcome. Called by
// pipeline checkpoints; no attempt record is appended since nothing was
// submitted at the checkpoint itself.
func (r *Registry) MarkTimedOut(key domain.SessionKey, id string, now time.Time) {
	e := r.lookup(key)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.ID != id || e.s.Terminal {
		return
	}
	e.s.Terminal = true
	e.s.Outcome = domain.OutcomeTimeout
	slog.Info("Session timed out",
		"identity", key.Identity,
		"url", key.URL,
		"elapsed", e.s.Elapsed(now),
		"submissions", e.s.SubmissionCount)
}

// Get returns a snapshot of one session.
func (r *Registry) Get(key domain.SessionKey, now time.Time) (Summary, bool) {
	e := r.lookup(key)
	if e == nil {
		return Summary{}, false
	}
	return r.summarize(e, now), true
}

// ListActive returns snapshots of every tracked session.
func (r *Registry) ListActive(now time.Time) []Summary {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, r.summarize(e, now))
	}
	return summaries
}

func (r *Registry) lookup(key domain.SessionKey) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[key]
}

func (r *Registry) summarize(e *entry, now time.Time) Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.summarizeLocked(e.s, now)
}

func (r *Registry) summarizeLocked(s *domain.Session, now time.Time) Summary {
	summary := Summary{
		ID:              s.ID,
		Identity:        s.Key.Identity,
		URL:             s.Key.URL,
		CurrentURL:      s.CurrentURL,
		CreatedAt:       s.CreatedAt,
		ElapsedSeconds:  s.Elapsed(now).Seconds(),
		SubmissionCount: s.SubmissionCount,
		TimedOut:        s.IsTimedOut(now, r.window),
		Terminal:        s.Terminal,
		Outcome:         s.Outcome,
	}
	if last := s.LastAttempt(); last != nil {
		copied := *last
		summary.LastAttempt = &copied
	}
	return summary
}

// archiveAttempt writes evidence to the archive without holding up the
// pipeline. Archive failures are logged, never surfaced.
func (r *Registry) archiveAttempt(key domain.SessionKey, seq int, rec domain.AttemptRecord) {
	if r.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.archive.SaveAttempt(ctx, key, seq, rec); err != nil {
			slog.Warn("Failed to archive attempt",
				"identity", key.Identity,
				"url", key.URL,
				"error", err)
		}
	}()
}
