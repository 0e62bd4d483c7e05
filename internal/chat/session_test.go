package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   []string
}

func (m *scriptedModel) Reply(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, text)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type memArchive struct {
	mu         sync.Mutex
	messages   map[string][]Message
	violations int
	blocked    bool
}

func newMemArchive() *memArchive {
	return &memArchive{messages: make(map[string][]Message)}
}

func (a *memArchive) AppendMessage(_ context.Context, key string, msg Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[key] = append(a.messages[key], msg)
	return nil
}

func (a *memArchive) SaveState(_ context.Context, _ string, violations int, blocked bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.violations = violations
	a.blocked = blocked
	return nil
}

const warnReply = `{"action":"warn","response":"Please stay on topic."}`

func TestNewSessionHasWelcome(t *testing.T) {
	t.Parallel()

	s := NewSession(&scriptedModel{}, SessionConfig{})
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Sender != SenderAI || msgs[0].Text != WelcomeMessage {
		t.Fatalf("unexpected welcome: %+v", msgs[0])
	}
	if s.State() != StateIdle || s.Violations() != 0 || s.Blocked() || s.Loading() {
		t.Fatalf("unexpected initial state: %+v", s.Snapshot())
	}
}

func TestSubmitEmptyIsIgnored(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{}
	s := NewSession(model, SessionConfig{})
	for _, text := range []string{"", "   ", "\n\t"} {
		if err := s.Submit(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Submit(%q): expected ErrEmptyMessage, got %v", text, err)
		}
	}
	if len(s.Messages()) != 1 {
		t.Fatalf("transcript changed: %+v", s.Messages())
	}
	if model.callCount() != 0 {
		t.Fatalf("model must not be called, got %d calls", model.callCount())
	}
}

func TestSubmitActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		reply    string
		wantText string
		wantNav  Target
	}{
		{"answer", `{"action":"answer","response":"Three years."}`, "Three years.", ""},
		{"fenced answer", "```json\n{\"action\":\"answer\",\"response\":\"X\"}\n```", "X", ""},
		{"navigate", `{"action":"navigate","target":"projects","response":"Going there."}`, "Going there.", TargetProjects},
		{"unknown action", `{"action":"dance","response":"ok"}`, UnexpectedResponseMessage, ""},
		{"not an object", `"just text"`, UnexpectedResponseMessage, ""},
		{"malformed", `Sure! Lei knows Angular.`, FormatErrorMessage, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var navigated []Target
			s := NewSession(&scriptedModel{replies: []string{tt.reply}}, SessionConfig{
				Navigator: NavigatorFunc(func(tg Target) { navigated = append(navigated, tg) }),
			})

			if err := s.Submit(context.Background(), "  hello  "); err != nil {
				t.Fatalf("Submit: %v", err)
			}

			msgs := s.Messages()
			if len(msgs) != 3 {
				t.Fatalf("expected 3 messages, got %d: %+v", len(msgs), msgs)
			}
			if msgs[1] != (Message{Sender: SenderUser, Text: "hello"}) {
				t.Errorf("unexpected user message: %+v", msgs[1])
			}
			if msgs[2] != (Message{Sender: SenderAI, Text: tt.wantText}) {
				t.Errorf("unexpected reply: %+v", msgs[2])
			}
			if s.State() != StateIdle || s.Violations() != 0 {
				t.Errorf("unexpected state: %+v", s.Snapshot())
			}
			if tt.wantNav == "" && len(navigated) != 0 {
				t.Errorf("unexpected navigation: %v", navigated)
			}
			if tt.wantNav != "" && (len(navigated) != 1 || navigated[0] != tt.wantNav) {
				t.Errorf("expected navigation to %q, got %v", tt.wantNav, navigated)
			}
		})
	}
}

func TestFencedAndPlainRepliesMatch(t *testing.T) {
	t.Parallel()

	plain := NewSession(&scriptedModel{replies: []string{`{"action":"answer","response":"X"}`}}, SessionConfig{})
	fenced := NewSession(&scriptedModel{replies: []string{"```json\n{\"action\":\"answer\",\"response\":\"X\"}\n```"}}, SessionConfig{})

	if err := plain.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := fenced.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	a, b := plain.Messages(), fenced.Messages()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("message %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestModelFailureReportsConnectionError(t *testing.T) {
	t.Parallel()

	s := NewSession(&scriptedModel{err: errors.New("boom")}, SessionConfig{})
	if err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs := s.Messages()
	if got := msgs[len(msgs)-1]; got.Text != ConnectionErrorMessage || got.Sender != SenderAI {
		t.Fatalf("unexpected last message: %+v", got)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestModelTimeoutReportsConnectionError(t *testing.T) {
	t.Parallel()

	slow := ModelFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := NewSession(slow, SessionConfig{ReplyTimeout: 20 * time.Millisecond})
	if err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs := s.Messages()
	if got := msgs[len(msgs)-1]; got.Text != ConnectionErrorMessage {
		t.Fatalf("unexpected last message: %+v", got)
	}
}

func TestWarningsEscalateToBlock(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{warnReply, warnReply, warnReply}}
	archive := newMemArchive()
	s := NewSession(model, SessionConfig{Key: "visitor:tab", Archive: archive})
	ctx := context.Background()

	if err := s.Submit(ctx, "weather?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs := s.Messages()
	if got := msgs[len(msgs)-1].Text; got != "Please stay on topic. You have 2 warning(s) left." {
		t.Fatalf("unexpected first warning: %q", got)
	}

	if err := s.Submit(ctx, "sports?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs = s.Messages()
	if got := msgs[len(msgs)-1].Text; got != "Please stay on topic. You have 1 warning(s) left." {
		t.Fatalf("unexpected second warning: %q", got)
	}
	if s.Violations() != 2 || s.Blocked() {
		t.Fatalf("expected 2 violations and not blocked, got %+v", s.Snapshot())
	}

	before := len(s.Messages())
	if err := s.Submit(ctx, "movies?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs = s.Messages()
	if len(msgs) != before+3 {
		t.Fatalf("expected user message plus two ai messages, got %d new", len(msgs)-before)
	}
	if msgs[before+1] != (Message{Sender: SenderAI, Text: "Please stay on topic."}) {
		t.Errorf("expected unsuffixed warning, got %+v", msgs[before+1])
	}
	if msgs[before+2] != (Message{Sender: SenderAI, Text: BlockedMessage}) {
		t.Errorf("expected blocked notice, got %+v", msgs[before+2])
	}
	if !s.Blocked() || s.State() != StateBlocked || s.Violations() != 3 {
		t.Fatalf("expected blocked session, got %+v", s.Snapshot())
	}

	archive.mu.Lock()
	archived := len(archive.messages["visitor:tab"])
	blocked := archive.blocked
	archive.mu.Unlock()
	if archived != len(msgs) {
		t.Errorf("expected %d archived messages, got %d", len(msgs), archived)
	}
	if !blocked {
		t.Error("expected archived state to be blocked")
	}
}

func TestBlockedSessionIgnoresSubmit(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{warnReply, warnReply, warnReply, `{"action":"answer","response":"never"}`}}
	s := NewSession(model, SessionConfig{})
	for i := 0; i < 3; i++ {
		if err := s.Submit(context.Background(), "off topic"); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	before := s.Snapshot()
	if err := s.Submit(context.Background(), "are you there?"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	after := s.Snapshot()
	if len(after.Messages) != len(before.Messages) || after.Violations != before.Violations {
		t.Fatalf("blocked session changed: before=%+v after=%+v", before, after)
	}
	if model.callCount() != 3 {
		t.Fatalf("expected 3 model calls, got %d", model.callCount())
	}
}

func TestConcurrentSubmitIsRejected(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	model := ModelFunc(func(_ context.Context, _ string) (string, error) {
		close(started)
		<-release
		return `{"action":"answer","response":"done"}`, nil
	})
	s := NewSession(model, SessionConfig{})

	done := make(chan error, 1)
	go func() {
		done <- s.Submit(context.Background(), "first")
	}()
	<-started

	if !s.Loading() {
		t.Fatal("expected session to be loading")
	}
	if err := s.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if n := len(s.Messages()); n != 2 {
		t.Fatalf("expected 2 messages while pending, got %d", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if n := len(s.Messages()); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestSubmitInputClearsBuffer(t *testing.T) {
	t.Parallel()

	s := NewSession(&scriptedModel{replies: []string{`{"action":"answer","response":"ok"}`}}, SessionConfig{})
	s.SetInput("   ")
	if err := s.SubmitInput(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if s.Input() != "   " {
		t.Fatalf("ignored submit must keep the buffer, got %q", s.Input())
	}

	s.SetInput(" tell me more ")
	if err := s.SubmitInput(context.Background()); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
	if s.Input() != "" {
		t.Fatalf("expected cleared buffer, got %q", s.Input())
	}
	if msgs := s.Messages(); msgs[1].Text != "tell me more" {
		t.Fatalf("unexpected user message: %+v", msgs[1])
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	t.Parallel()

	s := NewSession(&scriptedModel{replies: []string{`{"action":"answer","response":"ok"}`}}, SessionConfig{})

	var mu sync.Mutex
	var states []State
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, snap.State)
	})

	if err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	unsubscribe()
	s.SetInput("ignored after unsubscribe")

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 {
		t.Fatalf("expected 2 notifications, got %v", states)
	}
	if states[0] != StateAwaitingResponse || states[1] != StateIdle {
		t.Fatalf("unexpected state sequence: %v", states)
	}
}

func TestRegistrySweep(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_000_000, 0)
	r := NewRegistry()
	r.now = func() time.Time { return now }

	create := func() *Session { return NewSession(&scriptedModel{}, SessionConfig{}) }
	a := r.GetOrCreate(SessionKey("u1", "tab-1"), create)
	if again := r.GetOrCreate(SessionKey("u1", "tab-1"), create); again != a {
		t.Fatal("expected the same session for the same key")
	}

	now = now.Add(30 * time.Minute)
	r.GetOrCreate(SessionKey("u2", "tab-1"), create)

	now = now.Add(45 * time.Minute)
	evicted := r.Sweep(time.Hour)
	if len(evicted) != 1 || evicted[0] != "u1:tab-1" {
		t.Fatalf("unexpected eviction: %v", evicted)
	}
	if r.Get("u1:tab-1") != nil || r.Get("u2:tab-1") == nil || r.Len() != 1 {
		t.Fatal("registry contents unexpected after sweep")
	}
}

func TestRegistryOpenPassesIdentity(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var gotUser, gotSession string
	s := r.Open("u1", "tab-9", func(userID, sessionID string) *Session {
		gotUser, gotSession = userID, sessionID
		return NewSession(&scriptedModel{}, SessionConfig{Key: SessionKey(userID, sessionID)})
	})
	if gotUser != "u1" || gotSession != "tab-9" {
		t.Fatalf("factory got %q/%q", gotUser, gotSession)
	}
	if s.Key() != "u1:tab-9" || r.Get("u1:tab-9") != s {
		t.Fatal("expected session registered under its key")
	}
}

func TestParseSessionKey(t *testing.T) {
	t.Parallel()

	u, sid := ParseSessionKey(SessionKey("anon_abc", "tab:1"))
	if u != "anon_abc" || sid != "tab:1" {
		t.Fatalf("ParseSessionKey = %q, %q", u, sid)
	}
	if u, sid := ParseSessionKey("bare"); u != "bare" || sid != "" {
		t.Fatalf("ParseSessionKey(bare) = %q, %q", u, sid)
	}
}

// gatedArchive holds the write of gateText until release is closed.
type gatedArchive struct {
	*memArchive
	gateText string
	reached  chan struct{}
	release  chan struct{}
}

func (a *gatedArchive) AppendMessage(ctx context.Context, key string, msg Message) error {
	if msg.Text == a.gateText {
		close(a.reached)
		<-a.release
	}
	return a.memArchive.AppendMessage(ctx, key, msg)
}

func TestArchiveOrderSurvivesOverlappingFlushes(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{
		`{"action":"answer","response":"first reply"}`,
		`{"action":"answer","response":"second reply"}`,
	}}
	archive := &gatedArchive{
		memArchive: newMemArchive(),
		gateText:   "first reply",
		reached:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	s := NewSession(model, SessionConfig{Key: "v:t", Archive: archive})
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() { errs <- s.Submit(ctx, "a") }()
	<-archive.reached
	go func() { errs <- s.Submit(ctx, "b") }()

	// Give the second exchange time to reach its own flush.
	time.Sleep(50 * time.Millisecond)
	close(archive.release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	want := s.Messages()
	archive.mu.Lock()
	got := append([]Message(nil), archive.messages["v:t"]...)
	archive.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("archived %d messages, transcript has %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("archived message %d = %+v, transcript has %+v", i, got[i], want[i])
		}
	}
}
