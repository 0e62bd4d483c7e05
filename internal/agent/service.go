package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syntaxerrrr/folio/internal/chat"
)

// Service hands out per-session models and logs every exchange.
type Service struct {
	factory  ConversationFactory
	log      ConversationLogger
	provider string
	model    string

	conversations atomic.Int64
	failures      atomic.Int64
}

// NewService creates a service over factory. A nil logger disables
// conversation logging.
func NewService(factory ConversationFactory, log ConversationLogger, provider, model string) *Service {
	if log == nil {
		log = noopConversationLogger{}
	}
	return &Service{
		factory:  factory,
		log:      log,
		provider: provider,
		model:    model,
	}
}

// Enabled reports whether a real provider is configured.
func (s *Service) Enabled() bool {
	_, unavailable := s.factory.(Unavailable)
	return !unavailable
}

// ModelFor returns the model a chat session of userID/sessionID talks to.
// The provider conversation is created lazily on the first message so an
// idle visitor costs nothing.
func (s *Service) ModelFor(userID, sessionID string) chat.Model {
	return &sessionModel{svc: s, userID: userID, sessionID: sessionID}
}

// SessionFactory returns a chat.Factory whose sessions talk to this
// service. base supplies everything but the key.
func (s *Service) SessionFactory(base chat.SessionConfig) chat.Factory {
	return func(userID, sessionID string) *chat.Session {
		cfg := base
		cfg.Key = chat.SessionKey(userID, sessionID)
		return chat.NewSession(s.ModelFor(userID, sessionID), cfg)
	}
}

// ReleaseSession closes the conversation log of an evicted session.
func (s *Service) ReleaseSession(userID, sessionID string) {
	s.log.Release(userID, sessionID)
}

// GetStats returns agent statistics.
func (s *Service) GetStats() Stats {
	return Stats{
		Provider:      s.provider,
		Model:         s.model,
		Conversations: s.conversations.Load(),
		Failures:      s.failures.Load(),
	}
}

// Close releases resources.
func (s *Service) Close() {
	if err := s.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

type sessionModel struct {
	svc       *Service
	userID    string
	sessionID string
	conv      chat.Model
}

func (m *sessionModel) Reply(ctx context.Context, text string) (string, error) {
	m.svc.logEvent(m.userID, m.sessionID, "outbound", "chat_user_message", text, nil)

	if m.conv == nil {
		conv, err := m.svc.factory.NewConversation(ctx)
		if err != nil {
			m.svc.failures.Add(1)
			m.svc.logEvent(m.userID, m.sessionID, "inbound", "chat_model_error", "", map[string]any{"error": err.Error()})
			return "", err
		}
		m.conv = conv
		m.svc.conversations.Add(1)
	}

	start := time.Now()
	raw, err := m.conv.Reply(ctx, text)
	if err != nil {
		m.svc.failures.Add(1)
		m.svc.logEvent(m.userID, m.sessionID, "inbound", "chat_model_error", "", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return "", err
	}
	m.svc.logEvent(m.userID, m.sessionID, "inbound", "chat_model_reply", raw, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return raw, nil
}

func (s *Service) logEvent(userID, sessionID, direction, eventType, content string, meta map[string]any) {
	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
