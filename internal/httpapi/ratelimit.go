package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys bounds the rate limiter's key set so a flood of
// distinct endpoint uids cannot exhaust memory.
const maxTrackedKeys = 4096

// RateLimiter bounds POST /e/{uid} traffic per endpoint uid. A zero rpm
// disables limiting entirely.
type RateLimiter struct {
	rpm int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// NewRateLimiter builds a limiter allowing rpm requests per minute per
// key, with bursts up to rpm/4 (minimum 1).
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:      rpm,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

// Enabled reports whether rate limiting is configured.
func (r *RateLimiter) Enabled() bool { return r.rpm > 0 }

// Allow reports whether key may proceed right now.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictStaleLocked()

	lim, ok := r.limiters[key]
	if !ok {
		burst := r.rpm / 4
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), burst)
		r.limiters[key] = lim
	}
	r.lastSeen[key] = time.Now()
	return lim.Allow()
}

func (r *RateLimiter) evictStaleLocked() {
	if len(r.limiters) < maxTrackedKeys {
		return
	}
	cutoff := time.Now().Add(-10 * time.Minute)
	for k, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			delete(r.limiters, k)
			delete(r.lastSeen, k)
		}
	}
}
