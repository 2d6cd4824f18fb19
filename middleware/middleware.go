// Package middleware provides the HTTP middleware stack for the sieve API:
// security headers, request IDs with structured request logging, a body
// size cap, per-IP rate limiting, and HEAD method handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range middleware.DefaultStack(logger) {
//	    r.Use(mw)
//	}
package middleware

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// RequestIDKey is the context key for the per-request ID.
const RequestIDKey contextKey = "sieve_request_id"

// RequestID retrieves the request ID from the request context.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// DefaultStack returns the standard middleware stack, ordered:
// HeadToGet -> SecurityHeaders -> MaxBody -> RequestLogger -> RateLimiter.
func DefaultStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(Rate{MaxRequests: 120, WindowSeconds: 60}, "/health")
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(10 << 20),
		RequestLogger(logger),
		rl.Middleware,
	}
}

// HeadToGet converts HEAD requests to GET so handlers registered with
// r.Get() respond with 200 instead of 405. net/http strips the body for
// HEAD responses automatically.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBody returns middleware that caps the request body size.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
