package rateLimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/robertarktes/venue-bookings/internal/observability"
)

// Counter increments the hit count of key within the current fixed window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
}

func NewRateLimiter(counter Counter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{counter: counter, limit: limit, window: window}
}

// Allow fails open: a counter outage must not take the API down.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	n, err := rl.counter.Incr(ctx, key, rl.window)
	if err != nil {
		return true
	}
	return n <= int64(rl.limit)
}

// Middleware limits requests by the key returns; an empty key is not limited.
func (rl *RateLimiter) Middleware(key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := key(r); k != "" && !rl.Allow(r.Context(), k) {
				observability.RateLimitExceeded.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByIP keys requests on the client address.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
