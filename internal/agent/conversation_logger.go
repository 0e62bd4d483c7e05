package agent

import (
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	// MaxOpenFiles bounds the per-session files kept open. The least
	// recently written one is closed first.
	MaxOpenFiles int
}

const defaultMaxOpenFiles = 64

// ConversationLogEvent is one logged line.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records chat exchanges.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	// Release closes the log file of a session that went away.
	Release(userID, sessionID string)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Release(string, string)   {}
func (noopConversationLogger) Close() error             { return nil }

// NopConversationLogger returns a logger that discards events.
func NopConversationLogger() ConversationLogger {
	return noopConversationLogger{}
}

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu     sync.Mutex
	files  map[string]*list.Element
	lru    *list.List
	global *os.File
}

type openLog struct {
	path string
	f    *os.File
}

// NewConversationLogger starts an asynchronous NDJSON writer. Events are
// written to <Dir>/<user>/<session>.ndjson and, when enabled, appended to
// GlobalPath. When the queue is full new events are dropped.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("conversation log dir cannot be empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = defaultMaxOpenFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*list.Element),
		lru:    list.New(),
	}
	go l.run()
	return l, nil
}

func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

func (l *fileConversationLogger) Close() error {
	l.closeMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.closeMu.Unlock()
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for e := l.lru.Front(); e != nil; e = e.Next() {
		o := e.Value.(*openLog)
		if err := o.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", o.path, err)
		}
	}
	l.files = make(map[string]*list.Element)
	l.lru.Init()
	if l.global != nil {
		if err := l.global.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", l.cfg.GlobalPath, err)
		}
		l.global = nil
	}
	return firstErr
}

func (l *fileConversationLogger) Release(userID, sessionID string) {
	path := l.sessionPath(userID, sessionID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.files[path]; ok {
		l.closeLocked(e)
	}
}

// openFiles returns the number of per-session files currently open.
func (l *fileConversationLogger) openFiles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

func (l *fileConversationLogger) sessionPath(userID, sessionID string) string {
	return filepath.Join(l.cfg.Dir, safePathPart(userID), safePathPart(sessionID)+".ndjson")
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		l.writeSession(l.sessionPath(event.UserID, event.SessionID), line)
		if l.cfg.GlobalEnabled && l.cfg.GlobalPath != "" {
			l.writeGlobal(line)
		}
	}
}

func (l *fileConversationLogger) writeSession(path string, line []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var f *os.File
	if e, ok := l.files[path]; ok {
		l.lru.MoveToFront(e)
		f = e.Value.(*openLog).f
	} else {
		var err error
		if f, err = openAppend(path); err != nil {
			l.logger.Warn("failed to open conversation log", "path", path, "error", err)
			return
		}
		for l.lru.Len() >= l.cfg.MaxOpenFiles {
			l.closeLocked(l.lru.Back())
		}
		l.files[path] = l.lru.PushFront(&openLog{path: path, f: f})
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", path, "error", err)
	}
}

func (l *fileConversationLogger) writeGlobal(line []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.global == nil {
		f, err := openAppend(l.cfg.GlobalPath)
		if err != nil {
			l.logger.Warn("failed to open conversation log", "path", l.cfg.GlobalPath, "error", err)
			return
		}
		l.global = f
	}
	if _, err := l.global.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", l.cfg.GlobalPath, "error", err)
	}
}

func (l *fileConversationLogger) closeLocked(e *list.Element) {
	o := l.lru.Remove(e).(*openLog)
	delete(l.files, o.path)
	if err := o.f.Close(); err != nil {
		l.logger.Warn("failed to close conversation log", "path", o.path, "error", err)
	}
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	fencePattern    = regexp.MustCompile("```(?:json)?")
	spacePattern    = regexp.MustCompile(`\s+`)
	unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips terminal escapes and code fences and collapses
// whitespace so log lines stay greppable.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = fencePattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func safePathPart(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
