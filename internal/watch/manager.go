// Package watch streams live session snapshots to WebSocket observers.
package watch

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Manager tracks active observer connections so they can be closed on
// shutdown.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewManager creates a new observer manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]*websocket.Conn),
	}
}

// Register adds an observer connection under id.
func (m *Manager) Register(id string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[id]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "observer replaced")
	}
	m.active[id] = conn
	slog.Info("Session observer registered", "observer_id", id)
}

// Unregister removes an observer connection if it is still the tracked one.
func (m *Manager) Unregister(id string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[id]; exists && current == conn {
		delete(m.active, id)
		slog.Info("Session observer unregistered", "observer_id", id)
	}
}

// Count returns how many observers are connected.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll terminates every observer connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(m.active, id)
		slog.Info("Session observer closed", "observer_id", id)
	}
}
