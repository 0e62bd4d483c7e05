// folio - portfolio page server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/syntaxerrrr/folio/internal/agent"
	"github.com/syntaxerrrr/folio/internal/api"
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/config"
	"github.com/syntaxerrrr/folio/internal/identity"
	"github.com/syntaxerrrr/folio/internal/live"
	"github.com/syntaxerrrr/folio/internal/middleware"
	"github.com/syntaxerrrr/folio/internal/profile"
	"github.com/syntaxerrrr/folio/internal/store"
	"github.com/syntaxerrrr/folio/internal/sweeper"
	"github.com/syntaxerrrr/folio/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		slog.Error("Failed to load profile", "path", cfg.ProfilePath, "error", err)
		os.Exit(1)
	}
	prompt, err := prof.Prompt()
	if err != nil {
		slog.Error("Failed to render system prompt", "error", err)
		os.Exit(1)
	}
	slog.Info("Profile loaded", "name", prof.Name, "projects", len(prof.Projects))

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxOpenFiles:  cfg.ConversationLog.MaxOpenFiles,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	agentSvc := newAgentService(cfg, prompt, conversationLogger, logger)
	defer agentSvc.Close()

	registry := chat.NewRegistry()
	limiter := middleware.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow)
	sessions := store.Resume(repo, agentSvc.SessionFactory(chat.SessionConfig{
		Welcome:      prof.Welcome,
		ReplyTimeout: cfg.ChatReplyTimeout,
		Archive:      repo,
		Logger:       logger,
	}))
	cm := live.NewConnManager()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	siteHandler := api.NewSiteHandler(prof, agentSvc.Enabled(), cfg.ParticleCount)
	chatHandler := api.NewChatHandler(repo, registry, sessions, limiter)
	wsHandler := live.NewWebSocketHandler(repo, registry, sessions, cm, limiter, live.Options{
		ParticleCount: cfg.ParticleCount,
		FrameInterval: cfg.ParticleTick,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		siteHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/page", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSockets stream frames indefinitely, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper.New(sweeper.Config{
		SessionTTL:          cfg.ChatSessionTTL,
		TranscriptRetention: cfg.TranscriptRetention,
	}, registry, repo, func(userID, sessionID string) {
		cm.CloseSession(userID, sessionID)
		agentSvc.ReleaseSession(userID, sessionID)
	}, limiter).Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	drained := make(chan struct{})
	go func() {
		wsHandler.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		slog.Warn("Pending chat replies abandoned at shutdown")
	}

	stats := agentSvc.GetStats()
	slog.Info("Server stopped successfully",
		"conversations", stats.Conversations,
		"model_failures", stats.Failures)
}

// newAgentService connects to Gemini when a key is configured. Without one
// the assistant stays visible but every reply reports a connection problem.
func newAgentService(cfg *config.Config, prompt string, convLog agent.ConversationLogger, logger *slog.Logger) *agent.Service {
	if !cfg.AIEnabled() {
		slog.Info("AI features disabled (GEMINI_API_KEY not set)")
		return agent.NewService(agent.Unavailable{Reason: "GEMINI_API_KEY not set"}, convLog, "none", "")
	}

	agentCfg := agent.DefaultConfig()
	agentCfg.APIKey = cfg.GeminiAPIKey
	agentCfg.ModelName = cfg.GeminiModel
	agentCfg.SystemInstruction = prompt

	ctx, cancel := context.WithTimeout(context.Background(), agentCfg.ConnectTimeout)
	defer cancel()
	gemini, err := agent.NewGemini(ctx, agentCfg, logger)
	if err != nil {
		slog.Warn("Failed to initialize Gemini, AI features will be disabled", "error", err)
		return agent.NewService(agent.Unavailable{Reason: err.Error()}, convLog, "none", "")
	}
	return agent.NewService(gemini, convLog, "gemini", gemini.Model())
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
