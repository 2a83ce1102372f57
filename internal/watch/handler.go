package watch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"quizpilot/internal/session"
)

const defaultInterval = time.Second

// Handler upgrades observers to WebSocket and pushes registry snapshots on a
// fixed cadence until the client disconnects.
type Handler struct {
	registry      *session.Registry
	mgr           *Manager
	allowedOrigin string
	isDev         bool
	interval      time.Duration
}

// NewHandler creates a watch handler.
func NewHandler(registry *session.Registry, mgr *Manager, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		registry:      registry,
		mgr:           mgr,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		interval:      defaultInterval,
	}
}

// snapshotFrame is one pushed message.
type snapshotFrame struct {
	Type     string            `json:"type"`
	At       time.Time         `json:"at"`
	Sessions []session.Summary `json:"sessions"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.isDev,
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "error", err, "ip", r.RemoteAddr)
		return
	}

	id := uuid.NewString()
	h.mgr.Register(id, conn)
	defer h.mgr.Unregister(id, conn)

	// Observers only read; CloseRead surfaces the client going away.
	ctx := conn.CloseRead(r.Context())
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.push(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ticker.C:
			if err := h.push(ctx, conn); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("Observer push failed", "observer_id", id, "error", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) push(ctx context.Context, conn *websocket.Conn) error {
	frame := snapshotFrame{
		Type:     "sessions",
		At:       time.Now(),
		Sessions: h.registry.ListActive(time.Now()),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (curl, monitoring) send no Origin.
		return true
	}
	if h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowed, err := url.Parse(h.allowedOrigin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, allowed.Host)
}
