// Package page holds the portfolio page's UI state: the active section,
// the theme, overlay toggles and the particle background. Rendering is left
// to whoever observes the controller.
package page

import (
	"github.com/syntaxerrrr/folio/internal/particle"
)

// Tab is a page section.
type Tab string

const (
	TabAbout    Tab = "about"
	TabProjects Tab = "projects"
	TabTech     Tab = "tech"
	TabContact  Tab = "contact"
)

// Tabs returns the sections in display order.
func Tabs() []Tab {
	return []Tab{TabAbout, TabProjects, TabTech, TabContact}
}

// ParseTab converts s into a known tab.
func ParseTab(s string) (Tab, bool) {
	for _, t := range Tabs() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Theme is the page color scheme.
type Theme string

const (
	ThemeDark       Theme = "dark"
	ThemeLight      Theme = "light"
	ThemeFlashlight Theme = "flashlight"
)

// Next returns the theme the toggle switches to.
func (t Theme) Next() Theme {
	switch t {
	case ThemeDark:
		return ThemeLight
	case ThemeLight:
		return ThemeFlashlight
	default:
		return ThemeDark
	}
}

// ToggleLabel names the mode the toggle button leads to.
func (t Theme) ToggleLabel() string {
	return string(t.Next()) + " mode"
}

// Environment is the host the page is rendered in.
type Environment interface {
	ViewportSize() particle.Viewport
	ScrollToTop()
	SetCSSVariable(name, value string)
}

// State is a snapshot of the page for renderers.
type State struct {
	Tab            Tab    `json:"tab"`
	Theme          Theme  `json:"theme"`
	ThemeLabel     string `json:"theme_label"`
	AvatarZoomed   bool   `json:"avatar_zoomed"`
	ChatOpen       bool   `json:"chat_open"`
	TooltipVisible bool   `json:"tooltip_visible"`
}
