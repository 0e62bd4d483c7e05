package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/identity"
	"github.com/syntaxerrrr/folio/internal/middleware"
	"github.com/syntaxerrrr/folio/internal/page"
	"github.com/syntaxerrrr/folio/internal/particle"
	"github.com/syntaxerrrr/folio/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	writeTimeout       = 5 * time.Second
	lastSeenInterval   = time.Minute
	maxClientMessage   = 32 << 10
	defaultFrameTicker = 33 * time.Millisecond
)

// Options configures the page handler.
type Options struct {
	ParticleCount int
	FrameInterval time.Duration
	// NewSpawner returns the particle source for one connection. Defaults to
	// a time-seeded spawner.
	NewSpawner    func() *particle.Spawner
	AllowedOrigin string
	IsDev         bool
}

// WebSocketHandler serves GET /ws/page.
type WebSocketHandler struct {
	repo     store.Repository
	registry *chat.Registry
	sessions chat.Factory
	cm       *ConnManager
	limiter  *middleware.RateLimiter
	opts     Options

	inflight sync.WaitGroup
}

// NewWebSocketHandler creates a new page WebSocket handler. A nil limiter
// disables chat rate limiting.
func NewWebSocketHandler(repo store.Repository, registry *chat.Registry, sessions chat.Factory, cm *ConnManager, limiter *middleware.RateLimiter, opts Options) *WebSocketHandler {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaultFrameTicker
	}
	if opts.NewSpawner == nil {
		opts.NewSpawner = particle.NewTimeSpawner
	}
	return &WebSocketHandler{
		repo:     repo,
		registry: registry,
		sessions: sessions,
		cm:       cm,
		limiter:  limiter,
		opts:     opts,
	}
}

// Wait blocks until chat replies started by closed connections finish.
func (h *WebSocketHandler) Wait() {
	h.inflight.Wait()
}

// peer is one accepted connection.
type peer struct {
	id        string
	conn      *websocket.Conn
	ctx       context.Context
	userID    string
	sessionID string
}

func (p *peer) write(v serverMessage) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// send writes v and only logs failures. Used from callbacks that cannot
// return an error.
func (p *peer) send(v serverMessage) {
	if err := p.write(v); err != nil && p.ctx.Err() == nil {
		slog.Debug("WebSocket write error", "conn_id", p.id, "type", v.Type, "error", err)
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxClientMessage)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.cm.Register(userID, sessionID, ws)
	defer h.cm.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := &peer{
		id:        uuid.NewString(),
		conn:      ws,
		ctx:       ctx,
		userID:    userID,
		sessionID: sessionID,
	}

	env := newSocketEnv(p.send)
	session := h.registry.Open(userID, sessionID, h.sessions)
	ctrl := page.NewController(env, page.Options{
		ParticleCount: h.opts.ParticleCount,
		Spawner:       h.opts.NewSpawner(),
		Chat:          session,
	})

	unsubState := ctrl.Subscribe(func(s page.State) { p.send(stateMessage(s)) })
	defer unsubState()
	unsubChat := session.Subscribe(func(s chat.Snapshot) { p.send(chatMessage(s)) })
	defer unsubChat()
	stopTooltip := ctrl.HideTooltipAfter(page.TooltipDuration)
	defer stopTooltip()

	p.send(stateMessage(ctrl.State()))
	p.send(chatMessage(session.Snapshot()))
	p.send(frameMessage(ctrl.Particles()))

	g, gctx := errgroup.WithContext(ctx)

	// Input loop: WebSocket -> controller.
	g.Go(func() error {
		defer cancel()
		return h.inputLoop(gctx, p, env, ctrl, session)
	})

	// Frame loop: particle field -> WebSocket.
	g.Go(func() error {
		defer cancel()
		return h.frameLoop(gctx, p, ctrl)
	})

	if err := g.Wait(); err != nil {
		slog.Warn("Page session ended with error", "user_id", userID, "session_id", sessionID, "conn_id", p.id, "error", err)
		return
	}
	slog.Info("Page session ended", "user_id", userID, "session_id", sessionID, "conn_id", p.id)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, p *peer, env *socketEnv, ctrl *page.Controller, session *chat.Session) error {
	slog.Debug("Starting input loop", "user_id", p.userID, "conn_id", p.id)
	key := session.Key()
	var lastSeen time.Time

	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "user_id", p.userID, "conn_id", p.id)
				return nil
			}
			slog.Warn("WebSocket read error", "error", err, "user_id", p.userID)
			return nil
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.send(errorMessage("invalid_message"))
			continue
		}

		h.dispatch(ctx, p, env, ctrl, session, msg)

		h.registry.Touch(key)
		if now := time.Now(); now.Sub(lastSeen) >= lastSeenInterval {
			lastSeen = now
			go h.updateLastSeen(p.userID, now)
		}
	}
}

//nolint:gocyclo // Message dispatch is a flat switch over the client protocol.
func (h *WebSocketHandler) dispatch(ctx context.Context, p *peer, env *socketEnv, ctrl *page.Controller, session *chat.Session, msg clientMessage) {
	switch msg.Type {
	case msgResize:
		if msg.Width <= 0 || msg.Height <= 0 {
			p.send(errorMessage("invalid_viewport"))
			return
		}
		env.setViewport(msg.Width, msg.Height)
		if ctrl.Resize() {
			slog.Debug("Viewport resized", "conn_id", p.id, "width", msg.Width, "height", msg.Height)
		}
	case msgPointer:
		if msg.X <= legacyNoPointer && msg.Y <= legacyNoPointer {
			ctrl.PointerLeave()
			return
		}
		ctrl.PointerMove(msg.X, msg.Y)
	case msgLeave:
		ctrl.PointerLeave()
	case msgTab:
		tab, ok := page.ParseTab(msg.Tab)
		if !ok {
			p.send(errorMessage("unknown_tab"))
			return
		}
		ctrl.SetTab(tab)
	case msgTheme:
		ctrl.ToggleTheme()
	case msgAvatar:
		ctrl.ToggleAvatarZoom()
	case msgEscape:
		ctrl.Escape()
	case msgChatToggle:
		ctrl.ToggleChat()
	case msgInput:
		session.SetInput(msg.Content)
	case msgChat:
		h.submitChat(ctx, p, session, msg.Content)
	case msgPing:
		p.send(serverMessage{Type: msgPong})
	default:
		p.send(errorMessage("unknown_message"))
	}
}

// submitChat runs one exchange without blocking the input loop. An empty
// content submits the draft set with "input".
func (h *WebSocketHandler) submitChat(ctx context.Context, p *peer, session *chat.Session, content string) {
	if h.limiter != nil && !h.limiter.Allow(p.userID) {
		slog.Warn("Chat rate limit exceeded", "user_id", p.userID)
		p.send(errorMessage("rate_limited"))
		return
	}

	// The reply outlives the socket so it still lands in the transcript.
	submitCtx := context.WithoutCancel(ctx)
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		var err error
		if content == "" {
			err = session.SubmitInput(submitCtx)
		} else {
			err = session.Submit(submitCtx, content)
		}
		switch {
		case err == nil:
		case errors.Is(err, chat.ErrEmptyMessage):
			p.send(errorMessage("message_empty"))
		case errors.Is(err, chat.ErrBusy):
			p.send(errorMessage("reply_pending"))
		case errors.Is(err, chat.ErrBlocked):
			p.send(errorMessage("session_blocked"))
		default:
			slog.Error("Chat submit failed", "user_id", p.userID, "error", err)
		}
	}()
}

func (h *WebSocketHandler) frameLoop(ctx context.Context, p *peer, ctrl *page.Controller) error {
	ticker := time.NewTicker(h.opts.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.write(frameMessage(ctrl.Tick())); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (h *WebSocketHandler) updateLastSeen(userID string, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(ctx, userID, now); err != nil {
		slog.Warn("Failed to update last seen", "user_id", userID, "error", err)
	}
}
