package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/syntaxerrrr/folio/internal/chat"
)

const resumeTimeout = 5 * time.Second

// Resume wraps f so that a session created for a tab that already has an
// archive picks up its transcript, violation count and block. The sweeper
// evicts idle sessions from memory; without this a blocked tab would come
// back unblocked.
func Resume(repo Repository, f chat.Factory) chat.Factory {
	return func(userID, sessionID string) *chat.Session {
		s := f(userID, sessionID)

		ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
		defer cancel()

		rec, err := repo.GetChatSession(ctx, userID, sessionID)
		if err != nil {
			slog.Warn("Failed to load archived chat session", "user_id", userID, "session_id", sessionID, "error", err)
			return s
		}
		if rec == nil {
			return s
		}

		stored, err := repo.ListMessages(ctx, userID, sessionID, 0)
		if err != nil {
			slog.Warn("Failed to load archived transcript", "user_id", userID, "session_id", sessionID, "error", err)
			stored = nil
		}
		history := make([]chat.Message, 0, len(stored))
		for _, m := range stored {
			history = append(history, chat.Message{Sender: chat.Sender(m.Sender), Text: m.Text})
		}

		s.Restore(history, rec.ViolationCount, rec.Blocked)
		slog.Info("Chat session resumed from archive",
			"user_id", userID,
			"session_id", sessionID,
			"messages", len(history),
			"violations", rec.ViolationCount,
			"blocked", rec.Blocked)
		return s
	}
}
