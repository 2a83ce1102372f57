// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	// Identity the service submits quiz answers as.
	Email  string
	Secret string

	GeminiAPIKey string
	GeminiModel  string
	SystemPrompt string
	UserPrompt   string

	QuizTimeout        time.Duration
	SessionGracePeriod time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	SubmitTimeout      time.Duration

	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	BrowserHeadless   bool
	BrowserControlURL string

	// DBPath enables the attempt archive; empty disables it.
	DBPath string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		Email:  getEnv("EMAIL", ""),
		Secret: getEnv("SECRET", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		SystemPrompt: getEnv("SYSTEM_PROMPT", ""),
		UserPrompt:   getEnv("USER_PROMPT", ""),

		QuizTimeout:        getEnvDuration("QUIZ_TIMEOUT", 3*time.Minute),
		SessionGracePeriod: getEnvDuration("SESSION_GRACE_PERIOD", 30*time.Minute),
		RetryMaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
		SubmitTimeout:      getEnvDuration("SUBMIT_TIMEOUT", 10*time.Second),

		NavigationTimeout: getEnvDuration("NAV_TIMEOUT", 30*time.Second),
		SettleDelay:       getEnvDuration("SETTLE_DELAY", 2*time.Second),
		BrowserHeadless:   getEnvBool("BROWSER_HEADLESS", true),
		BrowserControlURL: getEnv("BROWSER_CONTROL_URL", ""),

		DBPath: getEnv("DB_PATH", "./data/attempts.db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Secret == "" {
		return fmt.Errorf("SECRET cannot be empty")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY cannot be empty")
	}
	if c.QuizTimeout <= 0 {
		return fmt.Errorf("QUIZ_TIMEOUT must be > 0")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be > 0")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
