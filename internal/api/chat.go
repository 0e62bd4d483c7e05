package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/domain"
	"github.com/syntaxerrrr/folio/internal/identity"
	"github.com/syntaxerrrr/folio/internal/middleware"
	"github.com/syntaxerrrr/folio/internal/store"
)

const (
	maxChatBodyBytes   = 16 << 10
	maxHistoryMessages = 500
)

// ChatHandler exposes a visitor tab's chat session over plain HTTP.
type ChatHandler struct {
	repo     store.Repository
	registry *chat.Registry
	sessions chat.Factory
	limiter  *middleware.RateLimiter
}

// NewChatHandler creates a chat handler. A nil limiter disables rate limiting.
func NewChatHandler(repo store.Repository, registry *chat.Registry, sessions chat.Factory, limiter *middleware.RateLimiter) *ChatHandler {
	return &ChatHandler{repo: repo, registry: registry, sessions: sessions, limiter: limiter}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.GetChat)
		r.Post("/", h.PostChat)
		r.Get("/history", h.GetHistory)
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

// GetChat returns the visitor tab's chat snapshot.
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	session := h.session(r)
	JSON(w, http.StatusOK, session.Snapshot())
}

// PostChat submits one message and waits for the assistant's reply.
func (h *ChatHandler) PostChat(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if h.limiter != nil && !h.limiter.Allow(visitorID) {
		slog.Warn("Chat rate limit exceeded", "user_id", visitorID)
		Error(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session := h.session(r)
	err := session.Submit(r.Context(), req.Message)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, session.Snapshot())
	case errors.Is(err, chat.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message_empty")
	case errors.Is(err, chat.ErrBusy):
		Error(w, http.StatusConflict, "reply_pending")
	case errors.Is(err, chat.ErrBlocked):
		Error(w, http.StatusLocked, "session_blocked")
	default:
		slog.Error("Chat submit failed", "user_id", visitorID, "error", err)
		Error(w, http.StatusInternalServerError, "chat_failed")
	}
}

// GetHistory returns the archived transcript of the visitor tab.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	limit := maxHistoryMessages
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryMessages)
	}

	msgs, err := h.repo.ListMessages(r.Context(), visitorID, sessionID, limit)
	if err != nil {
		slog.Error("Failed to load chat history", "user_id", visitorID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if msgs == nil {
		msgs = []domain.StoredMessage{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   msgs,
	})
}

func (h *ChatHandler) session(r *http.Request) *chat.Session {
	return h.registry.Open(
		identity.VisitorIDFromContext(r.Context()),
		identity.SessionIDFromContext(r.Context()),
		h.sessions,
	)
}
