package solver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quizpilot/internal/domain"
	"quizpilot/internal/quiz"
	"quizpilot/internal/session"
)

type stubRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	delay time.Duration
	calls int
}

func (r *stubRenderer) Render(ctx context.Context, url string) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.err != nil {
		return "", r.err
	}
	page, ok := r.pages[url]
	if !ok {
		return "", fmt.Errorf("no page for %s", url)
	}
	return page, nil
}

type stubInferrer struct {
	mu      sync.Mutex
	answers []string
	err     error
	calls   int
}

func (i *stubInferrer) Infer(ctx context.Context, prompt string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	if i.err != nil {
		return "", i.err
	}
	idx := i.calls - 1
	if idx >= len(i.answers) {
		idx = len(i.answers) - 1
	}
	return i.answers[idx], nil
}

type stubSubmitter struct {
	mu      sync.Mutex
	results []quiz.SubmitResult
	err     error
	calls   int
	answers []domain.Answer
}

func (s *stubSubmitter) Submit(ctx context.Context, url string, answer domain.Answer) (quiz.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.answers = append(s.answers, answer)
	if s.err != nil {
		return quiz.SubmitResult{}, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx], nil
}

func boolPtr(v bool) *bool { return &v }

const quizURL = "https://q.example.com/q/1"

// encodedQuizPage holds base64 "V2hhdCBpcyAyKzI/" => "What is 2+2?".
const encodedQuizPage = `<html><body>
	<div id="result"></div>
	<script>document.getElementById("result").innerText = atob("V2hhdCBpcyAyKzI/");</script>
</body></html>`

func newTestSolver(registry *session.Registry, r Renderer, i Inferrer, sub Submitter) *Solver {
	return New(registry, r, i, sub, Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		RunBudget:   time.Second,
	})
}

// waitTerminal polls until the session turns terminal or the deadline hits.
func waitTerminal(t *testing.T, registry *session.Registry, key domain.SessionKey) session.Summary {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := registry.Get(key, time.Now()); ok && s.Terminal {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Session never turned terminal")
	return session.Summary{}
}

func TestRun_EndToEndCorrect(t *testing.T) {
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{pages: map[string]string{quizURL: encodedQuizPage}}
	inferrer := &stubInferrer{answers: []string{"4"}}
	submitter := &stubSubmitter{results: []quiz.SubmitResult{{Correct: boolPtr(true)}}}

	s := newTestSolver(registry, renderer, inferrer, submitter)
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.Outcome != domain.OutcomeCorrect {
		t.Errorf("Expected correct outcome, got %q", final.Outcome)
	}
	if final.SubmissionCount != 1 {
		t.Errorf("Expected 1 submission, got %d", final.SubmissionCount)
	}
	if final.LastAttempt == nil {
		t.Fatal("Expected a recorded attempt")
	}
	if final.LastAttempt.Question != "What is 2+2?" {
		t.Errorf("Expected decoded question, got %q", final.LastAttempt.Question)
	}
	ans := final.LastAttempt.Answer
	if ans.Type != domain.AnswerNumber || ans.Number != 4 {
		t.Errorf("Expected answer 4 tagged number, got %#v", ans)
	}
}

func TestRun_FollowUpQuestionLoops(t *testing.T) {
	nextURL := "https://q.example.com/q/2"
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{pages: map[string]string{
		quizURL: encodedQuizPage,
		nextURL: `<html><body><div id="question">Is the sky blue?</div></body></html>`,
	}}
	inferrer := &stubInferrer{answers: []string{"5", "yes"}}
	submitter := &stubSubmitter{results: []quiz.SubmitResult{
		{Correct: boolPtr(false), NextURL: nextURL},
		{Correct: boolPtr(true)},
	}}

	s := newTestSolver(registry, renderer, inferrer, submitter)
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.Outcome != domain.OutcomeCorrect {
		t.Errorf("Expected correct outcome after follow-up, got %q", final.Outcome)
	}
	if final.SubmissionCount != 2 {
		t.Errorf("Expected 2 submissions, got %d", final.SubmissionCount)
	}
	if final.CurrentURL != nextURL {
		t.Errorf("Expected current URL updated to %q, got %q", nextURL, final.CurrentURL)
	}
	if submitter.answers[1].Type != domain.AnswerBoolean || !submitter.answers[1].Bool {
		t.Errorf("Expected second answer boolean true, got %#v", submitter.answers[1])
	}
}

func TestRun_RenderFailure(t *testing.T) {
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{err: errors.New("browser crashed")}
	s := newTestSolver(registry, renderer, &stubInferrer{answers: []string{"x"}}, &stubSubmitter{})
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.Outcome != domain.OutcomeError {
		t.Errorf("Expected error outcome, got %q", final.Outcome)
	}
	if final.LastAttempt == nil || final.LastAttempt.Failure != domain.FailureRender {
		t.Errorf("Expected render failure kind, got %+v", final.LastAttempt)
	}
	if final.SubmissionCount != 0 {
		t.Errorf("Render failure must not count a submission, got %d", final.SubmissionCount)
	}
}

func TestRun_QuestionNotFound(t *testing.T) {
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{pages: map[string]string{quizURL: `<html><body><p>empty</p></body></html>`}}
	s := newTestSolver(registry, renderer, &stubInferrer{answers: []string{"x"}}, &stubSubmitter{})
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.LastAttempt == nil || final.LastAttempt.Failure != domain.FailureQuestionNotFound {
		t.Errorf("Expected question-not-found failure, got %+v", final.LastAttempt)
	}
}

func TestRun_InferenceExhaustion(t *testing.T) {
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{pages: map[string]string{quizURL: encodedQuizPage}}
	inferrer := &stubInferrer{err: errors.New("rate limited")}
	s := newTestSolver(registry, renderer, inferrer, &stubSubmitter{})
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.LastAttempt == nil || final.LastAttempt.Failure != domain.FailureInferenceUnavailable {
		t.Errorf("Expected inference-unavailable failure, got %+v", final.LastAttempt)
	}
	if inferrer.calls != 3 {
		t.Errorf("Expected 3 inference attempts, got %d", inferrer.calls)
	}
}

func TestRun_SubmitExhaustion(t *testing.T) {
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{pages: map[string]string{quizURL: encodedQuizPage}}
	submitter := &stubSubmitter{err: errors.New("gateway down")}
	s := newTestSolver(registry, renderer, &stubInferrer{answers: []string{"4"}}, submitter)
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.LastAttempt == nil || final.LastAttempt.Failure != domain.FailureSubmitUnavailable {
		t.Errorf("Expected submit-unavailable failure, got %+v", final.LastAttempt)
	}
	if submitter.calls != 3 {
		t.Errorf("Expected 3 submit attempts, got %d", submitter.calls)
	}
}

func TestRun_AmbiguousResponse(t *testing.T) {
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{pages: map[string]string{quizURL: encodedQuizPage}}
	submitter := &stubSubmitter{results: []quiz.SubmitResult{{Reason: "pending"}}}
	s := newTestSolver(registry, renderer, &stubInferrer{answers: []string{"4"}}, submitter)
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.Outcome != domain.OutcomeError {
		t.Errorf("Expected error outcome for ambiguous verdict, got %q", final.Outcome)
	}
	if final.LastAttempt == nil || final.LastAttempt.Failure != domain.FailureAmbiguousResponse {
		t.Errorf("Expected ambiguous-response failure, got %+v", final.LastAttempt)
	}
	if final.SubmissionCount != 1 {
		t.Errorf("Ambiguous response still consumed a submission, got %d", final.SubmissionCount)
	}
}

func TestRun_TimeoutAtCheckpoint(t *testing.T) {
	// Window small enough that the render delay pushes past the deadline:
	// the checkpoint after Fetching must force TimedOut even though the
	// render itself succeeded.
	registry := session.NewRegistry(30*time.Millisecond, 30*time.Minute, nil)
	renderer := &stubRenderer{
		pages: map[string]string{quizURL: encodedQuizPage},
		delay: 60 * time.Millisecond,
	}
	submitter := &stubSubmitter{results: []quiz.SubmitResult{{Correct: boolPtr(true)}}}
	s := newTestSolver(registry, renderer, &stubInferrer{answers: []string{"4"}}, submitter)
	s.Start("learner@example.com", quizURL)

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.Outcome != domain.OutcomeTimeout {
		t.Errorf("Expected timeout outcome, got %q", final.Outcome)
	}
	if final.SubmissionCount != 0 {
		t.Errorf("Timed-out run must not have submitted, got %d", final.SubmissionCount)
	}
}

// slowFirstRenderer delays only its first render, so a pipeline started
// later against the same stub runs at full speed.
type slowFirstRenderer struct {
	mu    sync.Mutex
	page  string
	delay time.Duration
	calls int
}

func (r *slowFirstRenderer) Render(ctx context.Context, url string) (string, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.page, nil
}

func TestRun_ReplacedSessionStopsStaleRun(t *testing.T) {
	// The first run is stuck in render past the window; a second solve
	// request then replaces the expired session. The stale run must stop at
	// its next checkpoint instead of submitting into the fresh session.
	registry := session.NewRegistry(100*time.Millisecond, 30*time.Minute, nil)
	renderer := &slowFirstRenderer{page: encodedQuizPage, delay: 300 * time.Millisecond}
	submitter := &stubSubmitter{results: []quiz.SubmitResult{{Correct: boolPtr(true)}}}
	s := newTestSolver(registry, renderer, &stubInferrer{answers: []string{"4"}}, submitter)

	s.Start("learner@example.com", quizURL)
	time.Sleep(120 * time.Millisecond) // past the window, first render still blocked

	second := s.Start("learner@example.com", quizURL)
	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)
	if final.ID != second.ID {
		t.Fatalf("Expected the replacement session to finish, got %q vs %q", final.ID, second.ID)
	}
	if final.Outcome != domain.OutcomeCorrect {
		t.Errorf("Expected correct outcome on the replacement, got %q", final.Outcome)
	}

	// Let the stale run's render finish and its checkpoint fire.
	time.Sleep(300 * time.Millisecond)

	submitter.mu.Lock()
	submits := submitter.calls
	submitter.mu.Unlock()
	if submits != 1 {
		t.Errorf("Stale run must not submit, got %d submissions", submits)
	}
	after, _ := registry.Get(key, time.Now())
	if after.SubmissionCount != 1 {
		t.Errorf("Stale run mutated the replacement session: %d submissions recorded", after.SubmissionCount)
	}
	if after.Outcome != domain.OutcomeCorrect {
		t.Errorf("Replacement outcome overwritten to %q", after.Outcome)
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	got := truncate("héllo wörld", 6)
	if got != "héllo ..." {
		t.Errorf("Expected rune-safe cut, got %q", got)
	}
	if s := "short"; truncate(s, 10) != s {
		t.Errorf("Short strings must pass through unchanged")
	}
}

func TestStart_CoalescesConcurrentRequests(t *testing.T) {
	registry := session.NewRegistry(3*time.Minute, 30*time.Minute, nil)
	renderer := &stubRenderer{
		pages: map[string]string{quizURL: encodedQuizPage},
		delay: 20 * time.Millisecond,
	}
	submitter := &stubSubmitter{results: []quiz.SubmitResult{{Correct: boolPtr(true)}}}
	s := newTestSolver(registry, renderer, &stubInferrer{answers: []string{"4"}}, submitter)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Start("learner@example.com", quizURL)
		}()
	}
	wg.Wait()

	key := domain.SessionKey{Identity: "learner@example.com", URL: quizURL}
	final := waitTerminal(t, registry, key)

	if final.SubmissionCount != 1 {
		t.Errorf("Coalesced requests must produce one submission, got %d", final.SubmissionCount)
	}
	renderer.mu.Lock()
	calls := renderer.calls
	renderer.mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected a single pipeline, got %d renders", calls)
	}
}
