package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syntaxerrrr/folio/internal/chat"
	"google.golang.org/genai"
)

var errEmptyReply = errors.New("model returned empty text")

// Gemini creates chat conversations backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *slog.Logger
}

// NewGemini creates a Gemini client from cfg.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	temp := cfg.Temperature
	genCfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}
	if cfg.SystemInstruction != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}

	logger.Info("Gemini client ready", "model", cfg.ModelName)
	return &Gemini{
		client: client,
		model:  cfg.ModelName,
		config: genCfg,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (g *Gemini) Model() string {
	return g.model
}

// NewConversation starts a provider-side chat with an empty history.
func (g *Gemini) NewConversation(ctx context.Context) (chat.Model, error) {
	c, err := g.client.Chats.Create(ctx, g.model, g.config, nil)
	if err != nil {
		return nil, fmt.Errorf("create gemini chat: %w", err)
	}
	return &geminiConversation{chat: c}, nil
}

// geminiConversation is not safe for concurrent use; chat.Session never
// has more than one exchange in flight.
type geminiConversation struct {
	chat *genai.Chat
}

func (c *geminiConversation) Reply(ctx context.Context, text string) (string, error) {
	res, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", fmt.Errorf("gemini send message: %w", err)
	}
	out := res.Text()
	if out == "" {
		return "", errEmptyReply
	}
	return out, nil
}

// Unavailable is a factory used when no provider is configured. Every reply
// fails, which the chat session reports as a connection problem.
type Unavailable struct {
	Reason string
}

// NewConversation returns a model that always fails.
func (u Unavailable) NewConversation(context.Context) (chat.Model, error) {
	return chat.ModelFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("assistant unavailable: %s", u.Reason)
	}), nil
}
