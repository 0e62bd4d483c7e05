package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "folio.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVisitorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetVisitor(ctx, "anon_missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil visitor, got %+v err=%v", got, err)
	}

	now := time.Now().Truncate(time.Second)
	if err := s.UpsertVisitor(ctx, &domain.Visitor{
		VisitorID: "anon_1", Label: "visitor-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertVisitor: %v", err)
	}

	later := now.Add(time.Hour)
	if err := s.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}

	got, err = s.GetVisitor(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetVisitor: %v", err)
	}
	if got == nil || got.Label != "visitor-1" || !got.LastSeenAt.Equal(later) {
		t.Fatalf("unexpected visitor: %+v", got)
	}
}

func TestArchiveStoresTranscriptInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := chat.SessionKey("anon_1", "tab-1")

	msgs := []chat.Message{
		{Sender: chat.SenderAI, Text: chat.WelcomeMessage},
		{Sender: chat.SenderUser, Text: "what does Lei build?"},
		{Sender: chat.SenderAI, Text: "Full-stack apps."},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, key, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if err := s.SaveState(ctx, key, 2, false); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	stored, err := s.ListMessages(ctx, "anon_1", "tab-1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(stored) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(stored))
	}
	for i, m := range msgs {
		if stored[i].Sender != string(m.Sender) || stored[i].Text != m.Text {
			t.Fatalf("message %d = %+v, want %+v", i, stored[i], m)
		}
	}

	limited, err := s.ListMessages(ctx, "anon_1", "tab-1", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected one message with limit, got %d err=%v", len(limited), err)
	}

	rec, err := s.GetChatSession(ctx, "anon_1", "tab-1")
	if err != nil {
		t.Fatalf("GetChatSession: %v", err)
	}
	if rec == nil || rec.ViolationCount != 2 || rec.Blocked {
		t.Fatalf("unexpected session record: %+v", rec)
	}

	if err := s.SaveState(ctx, key, 3, true); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	rec, _ = s.GetChatSession(ctx, "anon_1", "tab-1")
	if rec == nil || !rec.Blocked || rec.ViolationCount != 3 {
		t.Fatalf("expected blocked session, got %+v", rec)
	}
}

func TestCleanupTranscripts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := chat.SessionKey("anon_1", "old")

	if err := s.AppendMessage(ctx, key, chat.Message{Sender: chat.SenderUser, Text: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ?`, time.Now().Add(-48*time.Hour).Unix()); err != nil {
		t.Fatalf("age session: %v", err)
	}
	if err := s.AppendMessage(ctx, chat.SessionKey("anon_1", "fresh"), chat.Message{Sender: chat.SenderUser, Text: "hey"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	n, err := s.CleanupTranscripts(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupTranscripts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted message, got %d", n)
	}
	if rec, _ := s.GetChatSession(ctx, "anon_1", "old"); rec != nil {
		t.Fatalf("expected old session removed, got %+v", rec)
	}
	fresh, _ := s.ListMessages(ctx, "anon_1", "fresh", 0)
	if len(fresh) != 1 {
		t.Fatalf("expected fresh transcript kept, got %d", len(fresh))
	}
}
