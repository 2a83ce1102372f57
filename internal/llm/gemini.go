// Package llm provides the language-model inference capability backed by
// Google Gemini.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Config holds Gemini client configuration.
type Config struct {
	APIKey          string
	Model           string
	SystemPrompt    string
	Temperature     float32
	MaxOutputTokens int32
}

// DefaultConfig returns defaults matching the quiz workload: short answers,
// mild creativity.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		Model:           "gemini-2.0-flash",
		Temperature:     0.7,
		MaxOutputTokens: 2048,
	}
}

// Client calls the Gemini API. Errors from Infer are transient from the
// retry layer's point of view; configuration problems fail at construction.
type Client struct {
	client *genai.Client
	cfg    Config
}

// New creates a Gemini client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 2048
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{client: client, cfg: cfg}, nil
}

// Infer sends prompt to the model and returns the response text.
func (c *Client) Infer(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.cfg.Temperature),
		MaxOutputTokens: c.cfg.MaxOutputTokens,
	}
	if c.cfg.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(c.cfg.SystemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		// Empty candidates happen under load and on safety trips; let the
		// retry layer take another shot.
		return "", errors.New("empty model response")
	}
	return text, nil
}
