package auth

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter paces authentication requests per host using a token bucket.
type RateLimiter struct {
	limiters   map[string]*rate.Limiter
	mu         sync.RWMutex
	rateLimit  rate.Limit
	burstLimit int
}

// NewRateLimiter creates a limiter allowing ratePerSecond requests per host
// with the given burst. A non-positive rate disables limiting.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		rateLimit:  limit,
		burstLimit: burst,
	}
}

// DefaultRateLimiter returns a limiter of 2 requests/second with a burst of 4.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2, 4)
}

// Allow reports whether a request to endpoint may proceed now.
func (r *RateLimiter) Allow(endpoint string) bool {
	return r.getLimiter(hostKey(endpoint)).Allow()
}

// Wait blocks until a request to endpoint is allowed or ctx is done.
// A nil limiter never blocks.
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	if r == nil {
		return ctx.Err()
	}
	return r.getLimiter(hostKey(endpoint)).Wait(ctx)
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(r.rateLimit, r.burstLimit)
	r.limiters[key] = limiter
	return limiter
}

// hostKey buckets endpoints by host so every path on a server shares a limit.
func hostKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
