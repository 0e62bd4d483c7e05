package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/syntaxerrrr/folio/internal/page"
	"github.com/syntaxerrrr/folio/internal/profile"
)

// SiteHandler serves static page configuration and profile data.
type SiteHandler struct {
	profile       *profile.Profile
	aiEnabled     bool
	particleCount int
}

// NewSiteHandler creates a site handler.
func NewSiteHandler(p *profile.Profile, aiEnabled bool, particleCount int) *SiteHandler {
	return &SiteHandler{profile: p, aiEnabled: aiEnabled, particleCount: particleCount}
}

// RegisterRoutes registers site routes.
func (h *SiteHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
	r.Get("/api/profile", h.GetProfile)
}

// GetConfig returns the server configuration for the frontend.
func (h *SiteHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled":     h.aiEnabled,
		"particle_count": h.particleCount,
		"tabs":           page.Tabs(),
	})
}

// GetProfile returns the public profile.
func (h *SiteHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.profile)
}
