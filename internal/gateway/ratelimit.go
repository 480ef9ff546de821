package gateway

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter holds one token bucket per authenticated caller. Only
// mutating methods consume tokens; reads pass freely.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rpm     int
	burst   int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing rpm requests per minute per
// caller. rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	rl := &RateLimiter{buckets: make(map[string]*bucket), rpm: rpm, burst: burst}
	if rpm > 0 {
		go rl.reap()
	}
	return rl
}

func (rl *RateLimiter) Enabled() bool { return rl.rpm > 0 }

// Allow reports whether the caller may proceed. key is the caller's uid.
func (rl *RateLimiter) Allow(key, method string) bool {
	if rl.rpm <= 0 {
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()
	return b.lim.Allow()
}

// reap drops buckets idle for over ten minutes.
func (rl *RateLimiter) reap() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for k, b := range rl.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(rl.buckets, k)
			}
		}
		rl.mu.Unlock()
	}
}
