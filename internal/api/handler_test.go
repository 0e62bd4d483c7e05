//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/identity"
	"github.com/syntaxerrrr/folio/internal/middleware"
	"github.com/syntaxerrrr/folio/internal/profile"
	"github.com/syntaxerrrr/folio/internal/store"
)

const (
	testVisitor = "anon_0123456789abcdef0123456789abcdef"
	testSession = "tab-1"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type testServer struct {
	router   *chi.Mux
	repo     *store.MemoryStore
	registry *chat.Registry
}

func newTestServer(t *testing.T, model chat.Model, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	repo := store.NewMemory()
	registry := chat.NewRegistry()
	factory := func(userID, sessionID string) *chat.Session {
		return chat.NewSession(model, chat.SessionConfig{
			Key:     chat.SessionKey(userID, sessionID),
			Archive: repo,
		})
	}

	p, err := profile.Default()
	if err != nil {
		t.Fatalf("profile.Default: %v", err)
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.WithIdentity(req.Context(), testVisitor, testSession)))
		})
	})
	NewHealthHandler(repo).RegisterHealth(r)
	NewSiteHandler(p, true, 30).RegisterRoutes(r)
	NewChatHandler(repo, registry, factory, limiter).RegisterRoutes(r)

	return &testServer{router: r, repo: repo, registry: registry}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func replyWith(raw string) chat.Model {
	return chat.ModelFunc(func(context.Context, string) (string, error) { return raw, nil })
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) chat.Snapshot {
	t.Helper()
	var snap chat.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestGetChatReturnsWelcome(t *testing.T) {
	s := newTestServer(t, replyWith(`{"action":"answer","response":"hi"}`), nil)

	rec := s.do(http.MethodGet, "/api/chat", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	snap := decodeSnapshot(t, rec)
	if len(snap.Messages) != 1 || snap.Messages[0].Text != chat.WelcomeMessage {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.State != chat.StateIdle {
		t.Fatalf("expected idle, got %s", snap.State)
	}
}

func TestPostChatAnswers(t *testing.T) {
	s := newTestServer(t, replyWith("```json\n{\"action\":\"answer\",\"response\":\"Lei builds web apps.\"}\n```"), nil)

	rec := s.do(http.MethodPost, "/api/chat", `{"message":"what does he build?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if len(snap.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %+v", snap.Messages)
	}
	if got := snap.Messages[2]; got.Sender != chat.SenderAI || got.Text != "Lei builds web apps." {
		t.Fatalf("unexpected reply: %+v", got)
	}

	hist := s.do(http.MethodGet, "/api/chat/history", "")
	var body struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			Sender string `json:"sender"`
			Text   string `json:"text"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(hist.Body).Decode(&body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if body.SessionID != testSession || len(body.Messages) != 3 {
		t.Fatalf("unexpected history: %+v", body)
	}
}

func TestPostChatRejections(t *testing.T) {
	s := newTestServer(t, replyWith(`{"action":"warn","response":"Let's stay on topic."}`), nil)

	if rec := s.do(http.MethodPost, "/api/chat", `{"message":"   "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/chat", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", rec.Code)
	}

	for i := 0; i < chat.MaxWarnings; i++ {
		if rec := s.do(http.MethodPost, "/api/chat", `{"message":"weather?"}`); rec.Code != http.StatusOK {
			t.Fatalf("warn %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := s.do(http.MethodPost, "/api/chat", `{"message":"still there?"}`)
	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423 once blocked, got %d", rec.Code)
	}

	got, _ := s.repo.GetChatSession(context.Background(), testVisitor, testSession)
	if got == nil || !got.Blocked || got.ViolationCount != chat.MaxWarnings {
		t.Fatalf("expected archived blocked state, got %+v", got)
	}
}

func TestPostChatBusy(t *testing.T) {
	release := make(chan struct{})
	model := chat.ModelFunc(func(ctx context.Context, _ string) (string, error) {
		select {
		case <-release:
			return `{"action":"answer","response":"done"}`, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	s := newTestServer(t, model, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var first *httptest.ResponseRecorder
	go func() {
		defer wg.Done()
		first = s.do(http.MethodPost, "/api/chat", `{"message":"one"}`)
	}()

	key := chat.SessionKey(testVisitor, testSession)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if sess := s.registry.Get(key); sess != nil && sess.Loading() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first message never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rec := s.do(http.MethodPost, "/api/chat", `{"message":"two"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while busy, got %d", rec.Code)
	}
	close(release)
	wg.Wait()
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", first.Code)
	}
}

func TestPostChatRateLimited(t *testing.T) {
	s := newTestServer(t, replyWith(`{"action":"answer","response":"ok"}`), middleware.NewRateLimiter(1, time.Hour))

	if rec := s.do(http.MethodPost, "/api/chat", `{"message":"one"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/chat", `{"message":"two"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestPostChatModelFailureStillAnswers(t *testing.T) {
	model := chat.ModelFunc(func(context.Context, string) (string, error) {
		return "", errors.New("upstream down")
	})
	s := newTestServer(t, model, nil)

	rec := s.do(http.MethodPost, "/api/chat", `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	snap := decodeSnapshot(t, rec)
	if last := snap.Messages[len(snap.Messages)-1]; last.Text != chat.ConnectionErrorMessage {
		t.Fatalf("expected connection error message, got %q", last.Text)
	}
}

func TestGetConfigAndProfile(t *testing.T) {
	s := newTestServer(t, replyWith(""), nil)

	rec := s.do(http.MethodGet, "/api/config", "")
	var cfg struct {
		AIEnabled     bool     `json:"ai_enabled"`
		ParticleCount int      `json:"particle_count"`
		Tabs          []string `json:"tabs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if !cfg.AIEnabled || cfg.ParticleCount != 30 || strings.Join(cfg.Tabs, ",") != "about,projects,tech,contact" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	rec = s.do(http.MethodGet, "/api/profile", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"projects"`) {
		t.Fatalf("unexpected profile response %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"warning"`) {
		t.Fatal("profile must not expose the assistant warning text")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, replyWith(""), nil)
	rec := s.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("unexpected health response %d: %s", rec.Code, rec.Body.String())
	}
}
