package particle

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is the randomness source used to create particles.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

// Spawner creates particles with random size, speed and opacity.
// It is safe for concurrent use.
type Spawner struct {
	mu     sync.Mutex
	rng    Rand
	nextID uint64
}

// NewSpawner returns a spawner drawing from rng.
func NewSpawner(rng Rand) *Spawner {
	return &Spawner{rng: rng}
}

// NewSeededSpawner returns a spawner with a deterministic PCG source.
func NewSeededSpawner(seed uint64) *Spawner {
	return NewSpawner(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// NewTimeSpawner returns a spawner seeded from the wall clock.
func NewTimeSpawner() *Spawner {
	return NewSeededSpawner(uint64(time.Now().UnixNano()))
}

// Spawn creates a particle. With reentry set the particle starts just below
// the bottom edge; otherwise anywhere inside the viewport.
func (s *Spawner) Spawn(vp Viewport, reentry bool) Particle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	size := s.rng.Float64()*sizeSpan + minSize
	x := s.rng.Float64() * vp.Width
	var y float64
	if reentry {
		y = vp.Height + size
	} else {
		y = s.rng.Float64() * vp.Height
	}
	vy := -(s.rng.Float64()*riseSpan + minRiseSpeed)

	return Particle{
		ID:      s.nextID,
		X:       x,
		Y:       y,
		VX:      0,
		VY:      vy,
		BaseVY:  vy,
		Size:    size,
		Opacity: s.rng.Float64()*opacitySpan + minOpacity,
	}
}
