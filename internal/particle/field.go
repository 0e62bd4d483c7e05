package particle

import "sync"

// Field holds a particle collection together with its viewport so a render
// loop and an event loop can share it.
type Field struct {
	mu        sync.Mutex
	particles []Particle
	viewport  Viewport
	spawner   *Spawner
}

// NewField creates a field of count particles.
func NewField(count int, vp Viewport, sp *Spawner) *Field {
	return &Field{
		particles: Initialize(count, vp, sp),
		viewport:  vp,
		spawner:   sp,
	}
}

// Resize changes the viewport used by subsequent ticks. Particles that are
// now outside are recycled on the next tick.
func (f *Field) Resize(vp Viewport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewport = vp
}

// Viewport returns the current viewport.
func (f *Field) Viewport() Viewport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewport
}

// Tick advances the field by one frame and returns a copy of the result.
func (f *Field) Tick(ptr Pointer) []Particle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.particles = Step(f.particles, ptr, f.viewport, f.spawner)
	return append([]Particle(nil), f.particles...)
}

// Particles returns a copy of the current collection.
func (f *Field) Particles() []Particle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Particle(nil), f.particles...)
}

// Len returns the number of particles.
func (f *Field) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.particles)
}
