package session

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = time.Minute

// StartSweeper runs a background goroutine that periodically purges sessions
// which have been terminal or expired longer than the grace period. Without
// it the registry grows without bound across long uptimes.
func (r *Registry) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", sweepInterval, "grace", r.grace)

		for {
			select {
			case <-ticker.C:
				if purged := r.Sweep(time.Now()); purged > 0 {
					slog.Info("Session sweeper purged sessions", "count", purged)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep removes sessions whose expiry (terminal or past the deadline window)
// is older than the grace period. Returns the number purged.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for key, e := range r.sessions {
		if r.purgeable(e, now) {
			delete(r.sessions, key)
			purged++
		}
	}
	return purged
}

func (r *Registry) purgeable(e *entry, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.s
	if !s.Terminal && !s.IsTimedOut(now, r.window) {
		return false
	}
	// Expiry is logical at window's end; terminal sessions expire at their
	// last recorded activity. Either way the grace period counts from the
	// later of the two.
	expiredAt := s.CreatedAt.Add(r.window)
	if last := s.LastAttempt(); last != nil && last.SubmittedAt.After(expiredAt) {
		expiredAt = last.SubmittedAt
	}
	return now.Sub(expiredAt) > r.grace
}
