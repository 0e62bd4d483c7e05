package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/domain"
	"github.com/syntaxerrrr/folio/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes transcript writes to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		visitor_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		violation_count INTEGER NOT NULL DEFAULT 0,
		is_blocked INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (visitor_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		visitor_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(visitor_id, session_id, id);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVisitor retrieves a visitor by ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `
		SELECT visitor_id, label, last_seen_at, created_at, updated_at
		FROM visitors WHERE visitor_id = ?`

	var v domain.Visitor
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(
		&v.VisitorID, &v.Label, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// UpsertVisitor creates or updates a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, label, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		label = excluded.label,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "upsert visitor", func() error {
		_, err := s.db.ExecContext(ctx, query,
			v.VisitorID, v.Label, v.LastSeenAt.Unix(),
			v.CreatedAt.Unix(), v.UpdatedAt.Unix(),
		)
		return err
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE visitor_id = ?`
	var rows int64
	err := s.withRetry(ctx, "update last_seen", func() error {
		result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), visitorID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", visitorID)
	}
	return nil
}

// AppendMessage archives one transcript entry under a chat.SessionKey.
func (s *SQLiteStore) AppendMessage(ctx context.Context, key string, msg chat.Message) error {
	visitorID, sessionID := chat.ParseSessionKey(key)
	now := time.Now()
	id := ulid.Make().String()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.withRetry(ctx, "append chat message", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO chat_messages (id, visitor_id, session_id, sender, text, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, visitorID, sessionID, string(msg.Sender), msg.Text, now.Unix(),
		)
		if err != nil {
			return err
		}
		return s.touchSession(ctx, visitorID, sessionID, now)
	})
}

// SaveState archives the session's strike counter and blocked flag.
func (s *SQLiteStore) SaveState(ctx context.Context, key string, violations int, blocked bool) error {
	visitorID, sessionID := chat.ParseSessionKey(key)
	now := time.Now().Unix()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
		INSERT INTO chat_sessions (visitor_id, session_id, violation_count, is_blocked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(visitor_id, session_id) DO UPDATE SET
			violation_count = excluded.violation_count,
			is_blocked = excluded.is_blocked,
			updated_at = excluded.updated_at`

	return s.withRetry(ctx, "save chat state", func() error {
		_, err := s.db.ExecContext(ctx, query, visitorID, sessionID, violations, blocked, now, now)
		return err
	})
}

func (s *SQLiteStore) touchSession(ctx context.Context, visitorID, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (visitor_id, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(visitor_id, session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		visitorID, sessionID, now.Unix(), now.Unix(),
	)
	return err
}

// GetChatSession retrieves archived session counters.
func (s *SQLiteStore) GetChatSession(ctx context.Context, visitorID, sessionID string) (*domain.ChatSessionRecord, error) {
	query := `
		SELECT visitor_id, session_id, violation_count, is_blocked, created_at, updated_at
		FROM chat_sessions WHERE visitor_id = ? AND session_id = ?`

	var rec domain.ChatSessionRecord
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID, sessionID).Scan(
		&rec.VisitorID, &rec.SessionID, &rec.ViolationCount, &rec.Blocked, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// ListMessages returns up to limit archived messages, oldest first. A
// non-positive limit returns everything.
func (s *SQLiteStore) ListMessages(ctx context.Context, visitorID, sessionID string, limit int) ([]domain.StoredMessage, error) {
	query := `
		SELECT id, visitor_id, session_id, sender, text, created_at
		FROM chat_messages WHERE visitor_id = ? AND session_id = ?
		ORDER BY id ASC`
	args := []any{visitorID, sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat message rows", "error", closeErr)
		}
	}()

	var out []domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.VisitorID, &m.SessionID, &m.Sender, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return out, nil
}

// CleanupTranscripts removes transcripts whose session has been idle longer
// than retention. It returns the number of deleted messages.
func (s *SQLiteStore) CleanupTranscripts(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deleted int64
	err := s.withRetry(ctx, "cleanup transcripts", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			DELETE FROM chat_messages WHERE EXISTS (
				SELECT 1 FROM chat_sessions cs
				WHERE cs.visitor_id = chat_messages.visitor_id
				  AND cs.session_id = chat_messages.session_id
				  AND cs.updated_at < ?
			)`, threshold)
		if err != nil {
			return err
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold); err != nil {
			return err
		}
		return tx.Commit()
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLITE_BUSY failures with exponential backoff
// (100ms, 200ms).
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseRetryDelay * time.Duration(1<<i)
		slog.Debug("sqlite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Repository = (*SQLiteStore)(nil)
