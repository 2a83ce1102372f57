// Package solver drives the end-to-end quiz pipeline: render the page,
// extract the question, infer an answer, submit it, and follow the quiz
// server through any follow-up questions until a terminal outcome or the
// session deadline.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quizpilot/internal/domain"
	"quizpilot/internal/quiz"
	"quizpilot/internal/retry"
	"quizpilot/internal/session"
)

// Renderer materializes a quiz URL into final page content, executing any
// embedded script along the way.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Inferrer asks the language model for an answer.
type Inferrer interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// Submitter posts a normalized answer to the quiz server.
type Submitter interface {
	Submit(ctx context.Context, url string, answer domain.Answer) (quiz.SubmitResult, error)
}

// Config tunes the pipeline.
type Config struct {
	UserPrompt  string
	MaxAttempts int
	BaseDelay   time.Duration
	// RunBudget caps the detached pipeline goroutine's context beyond the
	// session window, bounding the slack a hung collaborator can add.
	RunBudget time.Duration
}

// Solver owns pipeline runs. The inbound request handler calls Start and
// returns immediately; the run owns its own error handling and reports
// outcomes only through the session registry.
type Solver struct {
	registry  *session.Registry
	renderer  Renderer
	inferrer  Inferrer
	submitter Submitter
	cfg       Config
}

// New creates a solver.
func New(registry *session.Registry, renderer Renderer, inferrer Inferrer, submitter Submitter, cfg Config) *Solver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = time.Minute
	}
	return &Solver{
		registry:  registry,
		renderer:  renderer,
		inferrer:  inferrer,
		submitter: submitter,
		cfg:       cfg,
	}
}

// Start obtains or creates the session for (identity, url) and, if this call
// created it, spawns the pipeline run. Concurrent requests for the same pair
// coalesce onto the one session instead of racing two pipelines.
func (s *Solver) Start(identity, url string) session.Summary {
	key := domain.SessionKey{Identity: identity, URL: url}
	summary, created := s.registry.GetOrCreate(key, url, time.Now())
	if created {
		go s.run(key, summary.ID)
	} else {
		slog.Info("Solve request coalesced onto existing session",
			"identity", identity, "url", url)
	}
	return summary
}

// run executes the pipeline for one session incarnation. Detached from the
// inbound request; its context outlives the acknowledgment and is capped so
// the goroutine cannot outlive the deadline by more than the run budget.
// Every registry call carries id, so once the session is replaced (expiry,
// then a fresh solve request for the same key) this run stops at its next
// checkpoint and never touches the replacement's state.
func (s *Solver) run(key domain.SessionKey, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.registry.Window()+s.cfg.RunBudget)
	defer cancel()

	log := slog.With("identity", key.Identity, "quiz", key.URL)
	log.Info("Quiz run started")

	for {
		if s.checkpoint(key, id, log) {
			return
		}

		url, ok := s.registry.CurrentURL(key, id)
		if !ok {
			log.Warn("Session vanished or was replaced mid-run")
			return
		}

		// Fetching.
		page, err := s.renderer.Render(ctx, url)
		if err != nil {
			log.Error("Render failed", "url", url, "error", err)
			s.registry.RecordFailure(key, id, "", domain.FailureRender, time.Now())
			return
		}
		if s.checkpoint(key, id, log) {
			return
		}

		// Extracting.
		payload, err := quiz.Extract(page)
		if err != nil {
			log.Error("Question extraction failed", "url", url, "error", err)
			s.registry.RecordFailure(key, id, "", domain.FailureQuestionNotFound, time.Now())
			return
		}
		log.Info("Question extracted", "encoding", payload.Encoding, "question", truncate(payload.Text, 200))
		if s.checkpoint(key, id, log) {
			return
		}

		// Inferring.
		prompt := s.buildPrompt(payload.Text)
		rawAnswer, err := retry.Do(ctx, func() (string, error) {
			return s.inferrer.Infer(ctx, prompt)
		}, s.cfg.MaxAttempts, s.cfg.BaseDelay)
		if err != nil {
			log.Error("Inference unavailable", "error", err)
			s.registry.RecordFailure(key, id, payload.Text, domain.FailureInferenceUnavailable, time.Now())
			return
		}
		if s.checkpoint(key, id, log) {
			return
		}

		// Submitting.
		answer := quiz.Normalize(rawAnswer)
		log.Info("Submitting answer", "answer", answer.String(), "type", answer.Type)

		result, err := retry.Do(ctx, func() (quiz.SubmitResult, error) {
			return s.submitter.Submit(ctx, url, answer)
		}, s.cfg.MaxAttempts, s.cfg.BaseDelay)
		if err != nil {
			log.Error("Submission unavailable", "error", err)
			s.registry.RecordFailure(key, id, payload.Text, domain.FailureSubmitUnavailable, time.Now())
			return
		}

		rec, nextURL := s.judge(url, payload.Text, answer, result)
		terminal := s.registry.RecordAttempt(key, id, rec, nextURL, time.Now())
		log.Info("Attempt recorded", "outcome", rec.Outcome, "next_url", nextURL, "terminal", terminal)
		if terminal {
			return
		}
		// AwaitingNext is transient; loop straight back to Fetching.
	}
}

// checkpoint enforces the deadline between pipeline states. Returns true if
// the run must stop, either because its session's window elapsed or because
// the session was replaced out from under it.
func (s *Solver) checkpoint(key domain.SessionKey, id string, log *slog.Logger) bool {
	now := time.Now()
	if !s.registry.IsTimedOut(key, id, now) {
		return false
	}
	s.registry.MarkTimedOut(key, id, now)
	log.Warn("Run stopped at deadline checkpoint")
	return true
}

// judge maps the quiz server's verdict onto an attempt record and the URL to
// continue with, if any.
func (s *Solver) judge(currentURL, question string, answer domain.Answer, result quiz.SubmitResult) (domain.AttemptRecord, string) {
	rec := domain.AttemptRecord{
		Question:    question,
		Answer:      answer,
		RawResponse: describeResult(result),
		SubmittedAt: time.Now(),
	}
	nextURL := quiz.ResolveNextURL(currentURL, result.NextURL)

	switch {
	case result.Correct == nil && nextURL == "":
		// The server neither judged the answer nor offered a next step.
		rec.Outcome = domain.OutcomeError
		rec.Failure = domain.FailureAmbiguousResponse
		return rec, ""
	case result.Correct != nil && *result.Correct:
		rec.Outcome = domain.OutcomeCorrect
	default:
		rec.Outcome = domain.OutcomeIncorrect
	}
	return rec, nextURL
}

func (s *Solver) buildPrompt(question string) string {
	var sb strings.Builder
	if s.cfg.UserPrompt != "" {
		sb.WriteString(s.cfg.UserPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Based on this quiz question, provide ONLY the final answer in the format requested.\n")
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nReturn ONLY the answer, nothing else.")
	return sb.String()
}

func describeResult(result quiz.SubmitResult) string {
	verdict := "none"
	if result.Correct != nil {
		verdict = fmt.Sprintf("%t", *result.Correct)
	}
	parts := []string{"correct=" + verdict}
	if result.NextURL != "" {
		parts = append(parts, "url="+result.NextURL)
	}
	if result.Reason != "" {
		parts = append(parts, "reason="+result.Reason)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// ErrNoSession is returned by introspection helpers when a session is not
// tracked.
var ErrNoSession = errors.New("session not tracked")

// Session returns the snapshot for one (identity, url) pair.
func (s *Solver) Session(identity, url string) (session.Summary, error) {
	summary, ok := s.registry.Get(domain.SessionKey{Identity: identity, URL: url}, time.Now())
	if !ok {
		return session.Summary{}, ErrNoSession
	}
	return summary, nil
}
