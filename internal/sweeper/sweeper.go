// Package sweeper evicts idle chat sessions and expires archived transcripts.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/store"
)

const defaultInterval = 5 * time.Minute

// CleanupCallback is called for every evicted visitor tab.
type CleanupCallback func(userID, sessionID string)

// Pruner drops idle per-visitor state such as rate limiter buckets.
type Pruner interface {
	Prune() int
}

// Config controls the sweep.
type Config struct {
	Interval            time.Duration
	SessionTTL          time.Duration
	TranscriptRetention time.Duration
}

// Sweeper is the background worker.
type Sweeper struct {
	cfg       Config
	registry  *chat.Registry
	repo      store.Repository
	onCleanup CleanupCallback
	pruners   []Pruner
}

// New creates a sweeper. onCleanup may be nil.
func New(cfg Config, registry *chat.Registry, repo store.Repository, onCleanup CleanupCallback, pruners ...Pruner) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Sweeper{
		cfg:       cfg,
		registry:  registry,
		repo:      repo,
		onCleanup: onCleanup,
		pruners:   pruners,
	}
}

// Start runs the sweep every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started",
			"interval", s.cfg.Interval,
			"session_ttl", s.cfg.SessionTTL,
			"transcript_retention", s.cfg.TranscriptRetention)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one pass and returns the number of evicted sessions.
func (s *Sweeper) Sweep(ctx context.Context) int {
	evicted := 0
	if s.cfg.SessionTTL > 0 {
		keys := s.registry.Sweep(s.cfg.SessionTTL)
		for _, key := range keys {
			userID, sessionID := chat.ParseSessionKey(key)
			slog.Info("Sweeper evicted idle chat session", "user_id", userID, "session_id", sessionID)
			if s.onCleanup != nil {
				s.onCleanup(userID, sessionID)
			}
		}
		evicted = len(keys)
		if evicted > 0 {
			slog.Info("Sweeper cleanup completed", "evicted", evicted, "live", s.registry.Len())
		}
	}

	for _, p := range s.pruners {
		if n := p.Prune(); n > 0 {
			slog.Debug("Sweeper pruned idle entries", "count", n)
		}
	}

	if s.cfg.TranscriptRetention > 0 && s.repo != nil {
		if deleted, err := s.repo.CleanupTranscripts(ctx, s.cfg.TranscriptRetention); err != nil {
			slog.Error("Sweeper failed to cleanup transcripts", "error", err)
		} else if deleted > 0 {
			slog.Info("Sweeper removed expired transcripts", "messages", deleted)
		}
	}
	return evicted
}
