package live

import (
	"sync"

	"github.com/syntaxerrrr/folio/internal/particle"
)

// DefaultViewport is assumed until the browser reports its size.
var DefaultViewport = particle.Viewport{Width: 1280, Height: 800}

// socketEnv is the page.Environment of a connected browser. Effects are
// forwarded as server messages.
type socketEnv struct {
	send func(serverMessage)

	mu sync.Mutex
	vp particle.Viewport
}

func newSocketEnv(send func(serverMessage)) *socketEnv {
	return &socketEnv{send: send, vp: DefaultViewport}
}

func (e *socketEnv) ViewportSize() particle.Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vp
}

func (e *socketEnv) setViewport(width, height float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vp = particle.Viewport{Width: width, Height: height}
}

func (e *socketEnv) ScrollToTop() {
	e.send(serverMessage{Type: msgScrollTop})
}

func (e *socketEnv) SetCSSVariable(name, value string) {
	e.send(serverMessage{Type: msgCSSVar, Name: name, Value: value})
}
