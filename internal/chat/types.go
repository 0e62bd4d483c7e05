// Package chat implements the portfolio assistant's command interpreter:
// a per-visitor transcript, the JSON action protocol spoken by the model and
// the off-topic strike policy.
package chat

import (
	"context"
	"errors"
)

// Sender identifies who wrote a message.
type Sender string

const (
	// SenderUser marks a visitor message.
	SenderUser Sender = "user"
	// SenderAI marks an assistant message.
	SenderAI Sender = "ai"
)

// Message is one transcript entry. Entries are never edited once appended.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// State is the interpreter state for message sending.
type State string

const (
	// StateIdle accepts a new message.
	StateIdle State = "idle"
	// StateAwaitingResponse has one exchange in flight.
	StateAwaitingResponse State = "awaiting_response"
	// StateBlocked no longer accepts messages. The transcript stays readable.
	StateBlocked State = "blocked"
)

// MaxWarnings is the number of warn actions that blocks a session.
const MaxWarnings = 3

// Fixed assistant texts.
const (
	WelcomeMessage            = "Hello! I'm Lei's AI assistant. Ask me anything about his skills, projects, or experience."
	ConnectionErrorMessage    = "Sorry, I'm having trouble connecting right now."
	FormatErrorMessage        = "Sorry, I'm having trouble formatting my response. Please try again."
	UnexpectedResponseMessage = "I received an unexpected response. Please try rephrasing."
	BlockedMessage            = "You have been temporarily blocked due to repeated off-topic questions. Please refresh the page to start a new session."
)

// Errors returned by Submit when a message is ignored. The session is left
// untouched in every case.
var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("a reply is already pending")
	ErrBlocked      = errors.New("session is blocked")
)

// Model is the language model collaborator. Reply returns the raw model
// text for one user message; it may or may not contain a valid envelope.
type Model interface {
	Reply(ctx context.Context, text string) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, text string) (string, error)

// Reply calls f.
func (f ModelFunc) Reply(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Navigator receives the section the model asked to show.
type Navigator interface {
	Navigate(target Target)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target Target)

// Navigate calls f.
func (f NavigatorFunc) Navigate(target Target) {
	f(target)
}

// Archive persists transcripts and session counters. Write failures are
// logged and never affect the session.
type Archive interface {
	AppendMessage(ctx context.Context, key string, msg Message) error
	SaveState(ctx context.Context, key string, violations int, blocked bool) error
}

// Snapshot is a read-only copy of a session for renderers.
type Snapshot struct {
	Messages   []Message `json:"messages"`
	State      State     `json:"state"`
	Violations int       `json:"violation_count"`
	Blocked    bool      `json:"is_blocked"`
	Loading    bool      `json:"is_loading"`
	Input      string    `json:"user_input"`
}
