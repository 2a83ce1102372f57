// Package browser renders quiz pages with a headless Chrome instance so
// script-revealed content is present in the returned HTML.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config holds browser configuration.
type Config struct {
	// ControlURL attaches to an already-running Chrome debugger instead of
	// launching one.
	ControlURL        string
	Headless          bool
	NavigationTimeout time.Duration
	// SettleDelay is the wait after load for script-injected content (the
	// quiz reveals its question from an atob call) to reach the DOM.
	SettleDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       2 * time.Second,
	}
}

// Renderer owns one Chrome instance and opens a fresh page per render.
type Renderer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	cleanup func()
}

// NewRenderer creates a renderer. Chrome is launched lazily on the first
// render so a misconfigured browser does not block service startup.
func NewRenderer(cfg Config) *Renderer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Renderer{cfg: cfg}
}

func (r *Renderer) ensureStarted() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	controlURL := r.cfg.ControlURL
	var cleanup func()
	if controlURL == "" {
		l := launcher.New().Headless(r.cfg.Headless)
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
		cleanup = l.Cleanup
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	r.browser = browser
	r.cleanup = cleanup
	slog.Info("Browser connected", "control_url", controlURL, "headless", r.cfg.Headless)
	return browser, nil
}

// Render navigates to url in a fresh page, waits for the page (and its
// scripts) to settle, and returns the resulting HTML.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.ensureStarted()
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			slog.Debug("Failed to close page", "error", closeErr)
		}
	}()

	page = page.Context(ctx)
	if err := page.Timeout(r.cfg.NavigationTimeout).Navigate(url); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.Timeout(r.cfg.NavigationTimeout).WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for load of %s: %w", url, err)
	}

	if r.cfg.SettleDelay > 0 {
		select {
		case <-time.After(r.cfg.SettleDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			slog.Debug("Failed to close browser", "error", err)
		}
		r.browser = nil
	}
	if r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
}
