package chat

import (
	"strings"
	"sync"
	"time"
)

// Registry keeps live sessions keyed by visitor and tab.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	now     func() time.Time
}

type registryEntry struct {
	session  *Session
	lastUsed time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		now:     time.Now,
	}
}

// SessionKey builds the registry key for a visitor tab.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// ParseSessionKey splits a key built by SessionKey. User IDs never contain
// a colon; session IDs may.
func ParseSessionKey(key string) (userID, sessionID string) {
	userID, sessionID, ok := strings.Cut(key, ":")
	if !ok {
		return key, ""
	}
	return userID, sessionID
}

// Factory builds the session for a visitor tab.
type Factory func(userID, sessionID string) *Session

// Open returns the live session for a visitor tab, creating it with f.
func (r *Registry) Open(userID, sessionID string, f Factory) *Session {
	return r.GetOrCreate(SessionKey(userID, sessionID), func() *Session {
		return f(userID, sessionID)
	})
}

// GetOrCreate returns the session for key, creating it with create when
// missing. Either way the session is marked as used.
func (r *Registry) GetOrCreate(key string, create func() *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.lastUsed = r.now()
		return e.session
	}
	s := create()
	r.entries[key] = &registryEntry{session: s, lastUsed: r.now()}
	return s
}

// Get returns the session for key, or nil.
func (r *Registry) Get(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.session
	}
	return nil
}

// Touch marks key as used now.
func (r *Registry) Touch(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.lastUsed = r.now()
	}
}

// Remove drops key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep removes sessions idle for longer than ttl and returns their keys.
// Sessions with a reply in flight are kept.
func (r *Registry) Sweep(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	var evicted []string
	for key, e := range r.entries {
		if e.lastUsed.After(cutoff) || e.session.Loading() {
			continue
		}
		delete(r.entries, key)
		evicted = append(evicted, key)
	}
	return evicted
}
