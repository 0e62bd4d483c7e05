package live

import (
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/page"
	"github.com/syntaxerrrr/folio/internal/particle"
)

// Client message types.
const (
	msgResize     = "resize"
	msgPointer    = "pointer"
	msgLeave      = "leave"
	msgTab        = "tab"
	msgTheme      = "theme"
	msgAvatar     = "avatar"
	msgEscape     = "escape"
	msgChatToggle = "chat_toggle"
	msgInput      = "input"
	msgChat       = "chat"
	msgPing       = "ping"
)

// Server message types.
const (
	msgFrame     = "frame"
	msgState     = "state"
	msgChatState = "chat"
	msgScrollTop = "scroll_top"
	msgCSSVar    = "css_var"
	msgPong      = "pong"
	msgError     = "error"
)

// legacyNoPointer is the coordinate older clients send for "no pointer".
const legacyNoPointer = -9999

// clientMessage is one message from the browser.
type clientMessage struct {
	Type    string  `json:"type"`
	Width   float64 `json:"width,omitempty"`
	Height  float64 `json:"height,omitempty"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Tab     string  `json:"tab,omitempty"`
	Content string  `json:"content,omitempty"`
}

// serverMessage is one message to the browser.
type serverMessage struct {
	Type      string              `json:"type"`
	Particles []particle.Particle `json:"particles,omitempty"`
	State     *page.State         `json:"state,omitempty"`
	Chat      *chat.Snapshot      `json:"chat,omitempty"`
	Name      string              `json:"name,omitempty"`
	Value     string              `json:"value,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func frameMessage(ps []particle.Particle) serverMessage {
	if ps == nil {
		ps = []particle.Particle{}
	}
	return serverMessage{Type: msgFrame, Particles: ps}
}

func stateMessage(s page.State) serverMessage {
	return serverMessage{Type: msgState, State: &s}
}

func chatMessage(s chat.Snapshot) serverMessage {
	return serverMessage{Type: msgChatState, Chat: &s}
}

func errorMessage(code string) serverMessage {
	return serverMessage{Type: msgError, Error: code}
}
