// Package live drives a portfolio page over a WebSocket: the server runs the
// page controller and the browser renders what it is sent.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Closer is the part of a WebSocket connection the manager needs.
type Closer interface {
	Close(code websocket.StatusCode, reason string) error
}

// ConnManager tracks one live connection per visitor tab.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]Closer
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]Closer),
	}
}

// Register adds a connection for a visitor tab. A previous connection for
// the same tab is closed.
func (m *ConnManager) Register(userID, sessionID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Closer)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	slog.Info("Page session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the active one for the tab.
func (m *ConnManager) Unregister(userID, sessionID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Page session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession terminates the connection of one visitor tab.
func (m *ConnManager) CloseSession(userID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return false
	}
	conn, ok := sessions[sessionID]
	if !ok {
		return false
	}
	_ = conn.Close(websocket.StatusGoingAway, "session expired")
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
	slog.Info("Page session closed", "user_id", userID, "session_id", sessionID)
	return true
}

// Len returns the number of live connections.
func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
