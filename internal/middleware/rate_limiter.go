package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/posterwall/backend/internal/metrics"
)

// RateLimiter decides whether the caller identified by key may proceed.
type RateLimiter interface {
	Allow(key string) bool
}

// ClientLimits configures a ClientLimiter.
type ClientLimits struct {
	PerMinute int
	Burst     int
	// IdleTTL drops a client's bucket after this long without requests.
	IdleTTL time.Duration
}

type bucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

// ClientLimiter keeps one token bucket per client key. Idle buckets are swept
// at most once per IdleTTL.
type ClientLimiter struct {
	limits ClientLimits
	every  rate.Limit
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewClientLimiter returns a limiter for the given limits. Zero fields fall
// back to one request per minute, a burst equal to the rate and a ten minute
// idle TTL.
func NewClientLimiter(limits ClientLimits) *ClientLimiter {
	if limits.PerMinute <= 0 {
		limits.PerMinute = 1
	}
	if limits.Burst <= 0 {
		limits.Burst = limits.PerMinute
	}
	if limits.IdleTTL <= 0 {
		limits.IdleTTL = 10 * time.Minute
	}
	return &ClientLimiter{
		limits:  limits,
		every:   rate.Every(time.Minute / time.Duration(limits.PerMinute)),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from key's bucket.
func (l *ClientLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.limits.IdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.limits.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.every, l.limits.Burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.tokens.AllowN(now, 1)
}

// Tracked reports how many client buckets are held.
func (l *ClientLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit rejects callers over the limit with 429, keyed by scope and
// client IP. A nil limiter lets every request through.
func RateLimit(limiter RateLimiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(scope + ":" + ClientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			metrics.IncRateLimited(scope)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(60))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests", "kind": "rate_limited"})
		})
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then the peer address.
func ClientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
