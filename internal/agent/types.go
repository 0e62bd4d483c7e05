// Package agent connects chat sessions to the hosted language model.
package agent

import (
	"context"
	"time"

	"github.com/syntaxerrrr/folio/internal/chat"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Config holds model provider configuration.
type Config struct {
	APIKey            string
	ModelName         string
	SystemInstruction string
	Temperature       float32
	ConnectTimeout    time.Duration
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		ModelName:      DefaultModelName,
		Temperature:    0.7,
		ConnectTimeout: 10 * time.Second,
	}
}

// ConversationFactory starts a model conversation for one chat session.
// Each conversation keeps its own history with the provider.
type ConversationFactory interface {
	NewConversation(ctx context.Context) (chat.Model, error)
}

// Stats contains agent statistics.
type Stats struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Conversations int64  `json:"conversations"`
	Failures      int64  `json:"failures"`
}
