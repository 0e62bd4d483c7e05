// Package particle implements the pointer-reactive background particle field.
package particle

import (
	"math"
)

// Simulation constants.
const (
	DefaultCount      = 30
	InteractionRadius = 100.0
	ForceScale        = 2.5
	Friction          = 0.95
	RelaxRate         = 0.05

	minSize      = 4.0
	sizeSpan     = 8.0
	minRiseSpeed = 0.2
	riseSpan     = 0.8
	minOpacity   = 0.2
	opacitySpan  = 0.5
)

// Particle is a single dot in the field. BaseVY is fixed at creation.
type Particle struct {
	ID      uint64  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
	BaseVY  float64 `json:"base_vy"`
	Size    float64 `json:"size"`
	Opacity float64 `json:"opacity"`
}

// Viewport is the visible area in pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Pointer is the current pointer position. Present is false when the
// pointer has left the page.
type Pointer struct {
	X       float64
	Y       float64
	Present bool
}

// NoPointer is the absent pointer; it exerts no force.
var NoPointer = Pointer{}

// At returns a present pointer at x, y.
func At(x, y float64) Pointer {
	return Pointer{X: x, Y: y, Present: true}
}

// Initialize creates count particles scattered over the viewport.
func Initialize(count int, vp Viewport, sp *Spawner) []Particle {
	if count < 0 {
		count = 0
	}
	out := make([]Particle, count)
	for i := range out {
		out[i] = sp.Spawn(vp, false)
	}
	return out
}

// Step advances every particle by one tick and returns the new collection.
// The input slice is not modified. Particles leaving the left, right or top
// edge are replaced by fresh ones entering from below.
func Step(particles []Particle, ptr Pointer, vp Viewport, sp *Spawner) []Particle {
	out := make([]Particle, len(particles))
	for i, p := range particles {
		p = applyPointer(p, ptr)

		p.VX *= Friction
		p.VY = p.VY*Friction + p.BaseVY*RelaxRate

		p.X += p.VX
		p.Y += p.VY

		if offscreen(p, vp) {
			out[i] = sp.Spawn(vp, true)
			continue
		}
		out[i] = p
	}
	return out
}

// applyPointer pushes p away from the pointer when it is inside the
// interaction radius. A particle exactly under the pointer has no defined
// direction and is left alone.
func applyPointer(p Particle, ptr Pointer) Particle {
	if !ptr.Present {
		return p
	}
	dx := p.X - ptr.X
	dy := p.Y - ptr.Y
	dist := math.Hypot(dx, dy)
	if dist <= 0 || dist >= InteractionRadius {
		return p
	}
	force := (InteractionRadius - dist) / InteractionRadius
	p.VX += dx / dist * force * ForceScale
	p.VY += dy / dist * force * ForceScale
	return p
}

func offscreen(p Particle, vp Viewport) bool {
	return p.Y < -p.Size || p.X < -p.Size || p.X > vp.Width+p.Size
}
