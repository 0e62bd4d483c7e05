package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultReplyTimeout bounds one model call.
const DefaultReplyTimeout = 30 * time.Second

// SessionConfig holds optional session collaborators.
type SessionConfig struct {
	// Key identifies the session in the archive and in logs.
	Key          string
	Welcome      string
	ReplyTimeout time.Duration
	Navigator    Navigator
	Archive      Archive
	Logger       *slog.Logger
}

// Session is one visitor's chat: transcript, loading/blocked flags and the
// violation counter. It is safe for concurrent use; at most one exchange
// with the model is in flight.
type Session struct {
	model        Model
	key          string
	replyTimeout time.Duration
	archive      Archive
	logger       *slog.Logger

	// flushMu keeps archived order equal to transcript order across
	// overlapping flushes.
	flushMu sync.Mutex

	mu         sync.Mutex
	navigator  Navigator
	messages   []Message
	unarchived []Message
	violations int
	state      State
	input      string
	subs       map[int]func(Snapshot)
	nextSubID  int
}

// NewSession creates a session seeded with the welcome message.
func NewSession(model Model, cfg SessionConfig) *Session {
	if cfg.Welcome == "" {
		cfg.Welcome = WelcomeMessage
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		model:        model,
		key:          cfg.Key,
		replyTimeout: cfg.ReplyTimeout,
		archive:      cfg.Archive,
		logger:       cfg.Logger,
		navigator:    cfg.Navigator,
		state:        StateIdle,
		subs:         make(map[int]func(Snapshot)),
	}
	s.appendLocked(Message{Sender: SenderAI, Text: cfg.Welcome})
	return s
}

// Restore resumes a session rebuilt after eviction from its archived
// transcript and counters. A non-empty history replaces the welcome
// message. Violations never decrease and a block is never lifted.
func (s *Session) Restore(history []Message, violations int, blocked bool) {
	s.mu.Lock()
	if len(history) > 0 {
		s.messages = append([]Message(nil), history...)
		s.unarchived = nil
	}
	s.violations = max(s.violations, violations)
	if blocked {
		s.state = StateBlocked
	}
	s.mu.Unlock()
	s.notify()
}

// Key returns the session key.
func (s *Session) Key() string {
	return s.key
}

// SetNavigator replaces the navigation receiver.
func (s *Session) SetNavigator(n Navigator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigator = n
}

// Subscribe registers fn to be called with a snapshot after every change.
// The returned function removes the subscription.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Violations returns the number of warn actions received.
func (s *Session) Violations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violations
}

// Blocked reports whether the session stopped accepting messages.
func (s *Session) Blocked() bool {
	return s.State() == StateBlocked
}

// Loading reports whether a reply is pending.
func (s *Session) Loading() bool {
	return s.State() == StateAwaitingResponse
}

// Snapshot returns a copy of the whole session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetInput replaces the pending input buffer.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
	s.notify()
}

// Input returns the pending input buffer.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// SubmitInput submits the input buffer, clearing it when accepted.
func (s *Session) SubmitInput(ctx context.Context) error {
	return s.submit(ctx, "", true)
}

// Submit sends text to the model and interprets the reply. It returns
// ErrEmptyMessage, ErrBusy or ErrBlocked when the message is ignored.
// Model and protocol failures are reported in the transcript, not as errors.
func (s *Session) Submit(ctx context.Context, text string) error {
	return s.submit(ctx, text, false)
}

func (s *Session) submit(ctx context.Context, text string, fromInput bool) error {
	s.mu.Lock()
	if fromInput {
		text = s.input
	}
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		s.mu.Unlock()
		return ErrEmptyMessage
	case s.state == StateAwaitingResponse:
		s.mu.Unlock()
		return ErrBusy
	case s.state == StateBlocked:
		s.mu.Unlock()
		return ErrBlocked
	}

	s.appendLocked(Message{Sender: SenderUser, Text: text})
	if fromInput {
		s.input = ""
	}
	s.state = StateAwaitingResponse
	s.mu.Unlock()
	s.commit(ctx)

	raw, err := s.ask(ctx, text)

	s.mu.Lock()
	var target Target
	navigate := false
	if err != nil {
		s.logger.Warn("chat model call failed", "session", s.key, "error", err)
		s.appendLocked(Message{Sender: SenderAI, Text: ConnectionErrorMessage})
	} else {
		target, navigate = s.interpretLocked(raw)
	}
	if s.state != StateBlocked {
		s.state = StateIdle
	}
	nav := s.navigator
	s.mu.Unlock()

	if navigate && nav != nil {
		nav.Navigate(target)
	}
	s.commit(ctx)
	return nil
}

func (s *Session) ask(ctx context.Context, text string) (string, error) {
	if s.model == nil {
		return "", fmt.Errorf("no model configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.replyTimeout)
	defer cancel()
	return s.model.Reply(ctx, text)
}

// interpretLocked applies one raw model reply and reports a navigation
// request, if any.
func (s *Session) interpretLocked(raw string) (Target, bool) {
	env, err := ParseEnvelope(ExtractPayload(raw))
	if err != nil {
		s.logger.Warn("failed to parse model envelope", "session", s.key, "error", err)
		s.appendLocked(Message{Sender: SenderAI, Text: FormatErrorMessage})
		return "", false
	}

	switch env.Action {
	case ActionNavigate:
		s.appendLocked(Message{Sender: SenderAI, Text: env.Response})
		return env.Target, true

	case ActionAnswer:
		s.appendLocked(Message{Sender: SenderAI, Text: env.Response})

	case ActionWarn:
		s.violations++
		remaining := MaxWarnings - s.violations
		if remaining > 0 {
			s.appendLocked(Message{
				Sender: SenderAI,
				Text:   fmt.Sprintf("%s You have %d warning(s) left.", env.Response, remaining),
			})
		} else {
			s.appendLocked(Message{Sender: SenderAI, Text: env.Response})
			s.appendLocked(Message{Sender: SenderAI, Text: BlockedMessage})
			s.state = StateBlocked
			s.logger.Info("chat session blocked", "session", s.key, "violations", s.violations)
		}

	default:
		s.logger.Warn("unexpected model action", "session", s.key, "action", env.Action)
		s.appendLocked(Message{Sender: SenderAI, Text: UnexpectedResponseMessage})
	}
	return "", false
}

func (s *Session) appendLocked(msg Message) {
	s.messages = append(s.messages, msg)
	if s.archive != nil {
		s.unarchived = append(s.unarchived, msg)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Messages:   append([]Message(nil), s.messages...),
		State:      s.state,
		Violations: s.violations,
		Blocked:    s.state == StateBlocked,
		Loading:    s.state == StateAwaitingResponse,
		Input:      s.input,
	}
}

// commit flushes new messages to the archive and notifies subscribers.
func (s *Session) commit(ctx context.Context) {
	if s.archive != nil {
		s.flushArchive(context.WithoutCancel(ctx))
	}
	s.notify()
}

func (s *Session) flushArchive(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.unarchived
	s.unarchived = nil
	violations := s.violations
	blocked := s.state == StateBlocked
	s.mu.Unlock()

	for _, msg := range pending {
		if err := s.archive.AppendMessage(ctx, s.key, msg); err != nil {
			s.logger.Warn("failed to archive chat message", "session", s.key, "error", err)
		}
	}
	if err := s.archive.SaveState(ctx, s.key, violations, blocked); err != nil {
		s.logger.Warn("failed to archive chat state", "session", s.key, "error", err)
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
