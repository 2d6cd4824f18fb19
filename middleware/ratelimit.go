package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Rate defines a fixed-window limit.
type Rate struct {
	MaxRequests   int
	WindowSeconds int
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter enforces a per-IP fixed-window limit. Buckets live in memory
// and expired ones are garbage collected lazily on access plus by GC().
type RateLimiter struct {
	rate    Rate
	exclude []string // path prefixes excluded from limiting
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewRateLimiter creates a limiter. Zero or negative MaxRequests disables
// it.
func NewRateLimiter(rate Rate, excludePrefixes ...string) *RateLimiter {
	if rate.WindowSeconds <= 0 {
		rate.WindowSeconds = 60
	}
	return &RateLimiter{
		rate:    rate,
		exclude: excludePrefixes,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	if rl.rate.MaxRequests <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok || now.After(b.resetAt) {
		rl.buckets[ip] = &bucket{
			count:   1,
			resetAt: now.Add(time.Duration(rl.rate.WindowSeconds) * time.Second),
		}
		return true
	}
	b.count++
	return b.count <= rl.rate.MaxRequests
}

// GC drops expired buckets. Call periodically on long-lived limiters.
func (rl *RateLimiter) GC() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, ip)
		}
	}
}

// Middleware enforces the limit, answering 429 JSON when exceeded.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if rl.allow(ExtractIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
