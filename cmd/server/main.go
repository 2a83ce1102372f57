// Quiz Pilot - automated quiz solving service
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"quizpilot/internal/api"
	"quizpilot/internal/browser"
	"quizpilot/internal/config"
	"quizpilot/internal/llm"
	"quizpilot/internal/middleware"
	"quizpilot/internal/quiz"
	"quizpilot/internal/session"
	"quizpilot/internal/solver"
	"quizpilot/internal/store"
	"quizpilot/internal/watch"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Attempt archive is optional; an empty DB_PATH disables it.
	var repo store.Repository
	if cfg.DBPath != "" {
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := repo.Ping(context.Background()); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Attempt archive connected", "path", cfg.DBPath)
	} else {
		slog.Info("Attempt archive disabled (DB_PATH not set)")
	}

	registry := session.NewRegistry(cfg.QuizTimeout, cfg.SessionGracePeriod, repo)

	renderer := browser.NewRenderer(browser.Config{
		ControlURL:        cfg.BrowserControlURL,
		Headless:          cfg.BrowserHeadless,
		NavigationTimeout: cfg.NavigationTimeout,
		SettleDelay:       cfg.SettleDelay,
	})
	defer renderer.Close()

	llmCfg := llm.DefaultConfig(cfg.GeminiAPIKey)
	llmCfg.Model = cfg.GeminiModel
	llmCfg.SystemPrompt = cfg.SystemPrompt
	inferrer, err := llm.New(context.Background(), llmCfg)
	if err != nil {
		slog.Error("Failed to initialize Gemini client", "error", err)
		os.Exit(1)
	}

	submitter := quiz.NewSubmitClient(cfg.Email, cfg.Secret, cfg.SubmitTimeout)

	pipeline := solver.New(registry, renderer, inferrer, submitter, solver.Config{
		UserPrompt:  cfg.UserPrompt,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	})

	quizHandler := api.NewQuizHandler(cfg.Secret, registry, pipeline, renderer, repo)

	watchMgr := watch.NewManager()
	watchHandler := watch.NewHandler(registry, watchMgr, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.FrontendURL, cfg.IsDevelopment()))

	quizHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/sessions", watchHandler.ServeHTTP)

	// Create server.
	// Note: WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for WebSocket support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartSweeper(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	watchMgr.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
