package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"quizpilot/internal/quiz"
	"quizpilot/internal/session"
	"quizpilot/internal/solver"
	"quizpilot/internal/store"
)

// QuizHandler serves the quiz-solving API surface.
type QuizHandler struct {
	secret      string
	registry    *session.Registry
	solver      *solver.Solver
	renderer    solver.Renderer
	repo        store.Repository
	testTimeout time.Duration
}

// NewQuizHandler creates the handler. repo may be nil when the attempt
// archive is disabled.
func NewQuizHandler(secret string, registry *session.Registry, s *solver.Solver, renderer solver.Renderer, repo store.Repository) *QuizHandler {
	return &QuizHandler{
		secret:      secret,
		registry:    registry,
		solver:      s,
		renderer:    renderer,
		repo:        repo,
		testTimeout: 45 * time.Second,
	}
}

// RegisterRoutes registers quiz routes.
func (h *QuizHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Post("/quiz", h.Solve)
	r.Post("/test", h.Test)
	r.Get("/sessions", h.Sessions)
	r.Get("/attempts", h.Attempts)
}

// solveRequest is the inbound solve payload.
type solveRequest struct {
	Identity   string `json:"identity"`
	Credential string `json:"credential"`
	URL        string `json:"url"`
}

func (h *QuizHandler) decodeAndAuthorize(w http.ResponseWriter, r *http.Request) (solveRequest, bool) {
	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request payload")
		return req, false
	}
	if subtle.ConstantTimeCompare([]byte(req.Credential), []byte(h.secret)) != 1 {
		slog.Warn("Rejected request with invalid credential", "identity", req.Identity, "ip", r.RemoteAddr)
		Error(w, http.StatusForbidden, "invalid credential")
		return req, false
	}
	if req.URL == "" {
		Error(w, http.StatusBadRequest, "url is required")
		return req, false
	}
	return req, true
}

// Solve accepts a quiz task, spawns the background run, and acknowledges
// immediately. Failures after this point surface only through the session
// introspection endpoints.
func (h *QuizHandler) Solve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAndAuthorize(w, r)
	if !ok {
		return
	}

	h.solver.Start(req.Identity, req.URL)

	JSON(w, http.StatusAccepted, map[string]string{
		"status":  "processing",
		"message": "Quiz task received and processing started",
	})
}

// Test synchronously renders and extracts a quiz page. Development aid; the
// answer pipeline is not involved.
func (h *QuizHandler) Test(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAndAuthorize(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.testTimeout)
	defer cancel()

	page, err := h.renderer.Render(ctx, req.URL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			Error(w, http.StatusRequestTimeout, "render deadline exceeded")
			return
		}
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload, err := quiz.Extract(page)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"status":   "success",
		"question": truncateRunes(payload.Text, 500),
		"encoding": string(payload.Encoding),
	})
}

// Sessions returns a read-only snapshot of all tracked sessions.
func (h *QuizHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"sessions": h.registry.ListActive(time.Now()),
	})
}

// Attempts returns recent archived attempt records.
func (h *QuizHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "attempt archive disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	attempts, err := h.repo.RecentAttempts(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to load attempts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}
	if attempts == nil {
		attempts = []*store.Attempt{}
	}
	JSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// Root serves the endpoint index.
func (h *QuizHandler) Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"name":    ServiceName,
		"version": ServiceVersion,
		"endpoints": map[string]string{
			"POST /quiz":       "Submit quiz task",
			"POST /test":       "Render and extract a quiz page",
			"GET /sessions":    "View active sessions",
			"GET /attempts":    "View archived attempts",
			"GET /ws/sessions": "Live session stream",
			"GET /health":      "Health check",
		},
	})
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
