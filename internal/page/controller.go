package page

import (
	"strconv"
	"sync"
	"time"

	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/particle"
)

// TooltipDuration is how long the chat tooltip stays up on its own.
const TooltipDuration = 8 * time.Second

// Options configures a Controller.
type Options struct {
	ParticleCount int
	Spawner       *particle.Spawner
	// Chat, when set, is steered by the controller: navigate actions switch
	// the active tab.
	Chat *chat.Session
}

// Controller owns the page state. All methods are safe for concurrent use.
type Controller struct {
	env   Environment
	field *particle.Field
	chat  *chat.Session

	mu        sync.Mutex
	state     State
	pointer   particle.Pointer
	subs      map[int]func(State)
	nextSubID int
}

// NewController creates a controller on the about tab in the dark theme
// with the chat tooltip showing.
func NewController(env Environment, opts Options) *Controller {
	if opts.ParticleCount <= 0 {
		opts.ParticleCount = particle.DefaultCount
	}
	if opts.Spawner == nil {
		opts.Spawner = particle.NewTimeSpawner()
	}

	c := &Controller{
		env:   env,
		field: particle.NewField(opts.ParticleCount, env.ViewportSize(), opts.Spawner),
		chat:  opts.Chat,
		state: State{
			Tab:            TabAbout,
			Theme:          ThemeDark,
			ThemeLabel:     ThemeDark.ToggleLabel(),
			TooltipVisible: true,
		},
		pointer: particle.NoPointer,
		subs:    make(map[int]func(State)),
	}
	if c.chat != nil {
		c.chat.SetNavigator(c)
	}
	return c
}

// Chat returns the chat session steered by this page, or nil.
func (c *Controller) Chat() *chat.Session {
	return c.chat
}

// State returns the current page state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to be called after every state change.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// SetTab activates tab and scrolls to the top when it changes.
func (c *Controller) SetTab(tab Tab) {
	c.update(func(s *State) bool {
		if s.Tab == tab {
			return false
		}
		s.Tab = tab
		return true
	})
}

// Navigate implements chat.Navigator. Unknown targets are ignored.
func (c *Controller) Navigate(target chat.Target) {
	if target.Valid() {
		c.SetTab(Tab(target))
	}
}

// ToggleTheme advances dark → light → flashlight → dark.
func (c *Controller) ToggleTheme() {
	c.update(func(s *State) bool {
		s.Theme = s.Theme.Next()
		s.ThemeLabel = s.Theme.ToggleLabel()
		return true
	})
}

// ToggleAvatarZoom opens or closes the enlarged avatar.
func (c *Controller) ToggleAvatarZoom() {
	c.update(func(s *State) bool {
		s.AvatarZoomed = !s.AvatarZoomed
		return true
	})
}

// ToggleChat opens or closes the chat panel. Opening it for the first time
// dismisses the tooltip.
func (c *Controller) ToggleChat() {
	c.update(func(s *State) bool {
		s.ChatOpen = !s.ChatOpen
		s.TooltipVisible = false
		return true
	})
}

// HideTooltip dismisses the chat tooltip.
func (c *Controller) HideTooltip() {
	c.update(func(s *State) bool {
		if !s.TooltipVisible {
			return false
		}
		s.TooltipVisible = false
		return true
	})
}

// HideTooltipAfter dismisses the tooltip once d elapses. The returned
// function cancels the timer.
func (c *Controller) HideTooltipAfter(d time.Duration) func() bool {
	t := time.AfterFunc(d, c.HideTooltip)
	return t.Stop
}

// Escape closes the avatar zoom and the chat panel.
func (c *Controller) Escape() {
	c.update(func(s *State) bool {
		if !s.AvatarZoomed && !s.ChatOpen {
			return false
		}
		s.AvatarZoomed = false
		s.ChatOpen = false
		return true
	})
}

// PointerMove records the pointer for the particle field. In the flashlight
// theme it also moves the spotlight.
func (c *Controller) PointerMove(x, y float64) {
	c.mu.Lock()
	c.pointer = particle.At(x, y)
	flashlight := c.state.Theme == ThemeFlashlight
	c.mu.Unlock()

	if flashlight {
		c.env.SetCSSVariable("--mouse-x", pixels(x))
		c.env.SetCSSVariable("--mouse-y", pixels(y))
	}
}

// PointerLeave clears the pointer.
func (c *Controller) PointerLeave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pointer = particle.NoPointer
}

// Resize re-reads the viewport from the environment. It reports whether
// the viewport changed.
func (c *Controller) Resize() bool {
	vp := c.env.ViewportSize()
	if vp == c.field.Viewport() {
		return false
	}
	c.field.Resize(vp)
	return true
}

// Tick advances the particle field one frame and returns it.
func (c *Controller) Tick() []particle.Particle {
	c.mu.Lock()
	ptr := c.pointer
	c.mu.Unlock()
	return c.field.Tick(ptr)
}

// Particles returns the current frame without advancing it.
func (c *Controller) Particles() []particle.Particle {
	return c.field.Particles()
}

func (c *Controller) update(fn func(*State) bool) {
	c.mu.Lock()
	prev := c.state
	if !fn(&c.state) {
		c.mu.Unlock()
		return
	}
	next := c.state
	subs := make([]func(State), 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	if next.Tab != prev.Tab {
		c.env.ScrollToTop()
	}
	for _, s := range subs {
		s(next)
	}
}

func pixels(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}
