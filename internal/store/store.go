// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/domain"
)

// Repository defines the interface for persisting visitors and chat transcripts.
type Repository interface {
	chat.Archive

	// GetVisitor retrieves a visitor by ID. It returns nil, nil when missing.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error

	// GetChatSession retrieves archived session counters. It returns nil, nil
	// when the session never stored anything.
	GetChatSession(ctx context.Context, visitorID, sessionID string) (*domain.ChatSessionRecord, error)

	// ListMessages returns up to limit archived messages, oldest first.
	ListMessages(ctx context.Context, visitorID, sessionID string, limit int) ([]domain.StoredMessage, error)

	// CleanupTranscripts removes messages and session rows not touched within retention.
	CleanupTranscripts(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
