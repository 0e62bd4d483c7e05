package store

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/domain"
)

// MemoryStore is a Repository kept in process memory. It backs the CLI and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]domain.Visitor
	sessions map[string]domain.ChatSessionRecord
	messages map[string][]domain.StoredMessage
	now      func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		visitors: make(map[string]domain.Visitor),
		sessions: make(map[string]domain.ChatSessionRecord),
		messages: make(map[string][]domain.StoredMessage),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetVisitor(_ context.Context, visitorID string) (*domain.Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[visitorID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *MemoryStore) UpsertVisitor(_ context.Context, v *domain.Visitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.visitors[v.VisitorID]; ok {
		existing.Label = v.Label
		existing.LastSeenAt = v.LastSeenAt
		existing.UpdatedAt = v.UpdatedAt
		m.visitors[v.VisitorID] = existing
		return nil
	}
	m.visitors[v.VisitorID] = *v
	return nil
}

func (m *MemoryStore) UpdateLastSeen(_ context.Context, visitorID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[visitorID]
	if !ok {
		return nil
	}
	v.LastSeenAt = lastSeen
	v.UpdatedAt = m.now()
	m.visitors[visitorID] = v
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, key string, msg chat.Message) error {
	visitorID, sessionID := chat.ParseSessionKey(key)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[key] = append(m.messages[key], domain.StoredMessage{
		ID:        ulid.Make().String(),
		VisitorID: visitorID,
		SessionID: sessionID,
		Sender:    string(msg.Sender),
		Text:      msg.Text,
		CreatedAt: now,
	})
	m.touchLocked(key, now)
	return nil
}

func (m *MemoryStore) SaveState(_ context.Context, key string, violations int, blocked bool) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.touchLocked(key, now)
	rec.ViolationCount = violations
	rec.Blocked = blocked
	m.sessions[key] = rec
	return nil
}

func (m *MemoryStore) touchLocked(key string, now time.Time) domain.ChatSessionRecord {
	rec, ok := m.sessions[key]
	if !ok {
		rec.VisitorID, rec.SessionID = chat.ParseSessionKey(key)
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.sessions[key] = rec
	return rec
}

func (m *MemoryStore) GetChatSession(_ context.Context, visitorID, sessionID string) (*domain.ChatSessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[chat.SessionKey(visitorID, sessionID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, visitorID, sessionID string, limit int) ([]domain.StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[chat.SessionKey(visitorID, sessionID)]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]domain.StoredMessage(nil), msgs...), nil
}

func (m *MemoryStore) CleanupTranscripts(_ context.Context, retention time.Duration) (int64, error) {
	threshold := m.now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for key, rec := range m.sessions {
		if rec.UpdatedAt.Before(threshold) {
			deleted += int64(len(m.messages[key]))
			delete(m.messages, key)
			delete(m.sessions, key)
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
