package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per key (a visitor ID). Buckets
// allow limit events per window with a burst of limit.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	limiters map[string]*visitorLimiter
	now      func() time.Time
}

type visitorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing limit events per window per key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		idle:     window * 10,
		limiters: make(map[string]*visitorLimiter),
		now:      time.Now,
	}
}

// Allow reports whether key may perform one more event now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	vl, ok := l.limiters[key]
	if !ok {
		vl = &visitorLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = vl
	}
	vl.lastSeen = now
	return vl.limiter.AllowN(now, 1)
}

// Prune drops buckets idle for ten windows and returns how many were removed.
func (l *RateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	removed := 0
	for key, vl := range l.limiters {
		if vl.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}
