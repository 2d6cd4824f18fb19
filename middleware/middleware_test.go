package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/x", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/", nil))
	if method != http.MethodGet {
		t.Errorf("method = %q", method)
	}
}

func TestRequestLoggerAssignsID(t *testing.T) {
	var inCtx string
	h := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = RequestID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	echoed := rec.Header().Get("X-Request-ID")
	if echoed == "" || echoed != inCtx {
		t.Errorf("request id: header %q, context %q", echoed, inCtx)
	}
}

func TestRequestLoggerKeepsProvidedID(t *testing.T) {
	h := RequestLogger(nil)(okHandler())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "given-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "given-id" {
		t.Errorf("request id = %q", got)
	}
}

func TestRateLimiterBlocksAndResets(t *testing.T) {
	rl := NewRateLimiter(Rate{MaxRequests: 2, WindowSeconds: 60})
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	do := func() int {
		req := httptest.NewRequest("GET", "/api/distill", nil)
		req.RemoteAddr = "203.0.113.9:4242"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do() != 200 || do() != 200 {
		t.Fatal("requests within the limit were blocked")
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}

	now = now.Add(61 * time.Second)
	if do() != 200 {
		t.Error("window did not reset")
	}
}

func TestRateLimiterExcludesPrefixes(t *testing.T) {
	rl := NewRateLimiter(Rate{MaxRequests: 1, WindowSeconds: 60}, "/health")
	h := rl.Middleware(okHandler())
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "203.0.113.9:4242"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("excluded path limited on request %d", i)
		}
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(Rate{MaxRequests: 1, WindowSeconds: 60})
	h := rl.Middleware(okHandler())
	do := func(addr string) int {
		req := httptest.NewRequest("GET", "/x", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if do("203.0.113.1:1") != 200 {
		t.Fatal("first ip blocked")
	}
	if do("203.0.113.2:1") != 200 {
		t.Error("second ip shares the first ip's bucket")
	}
	if do("203.0.113.1:9") != http.StatusTooManyRequests {
		t.Error("first ip not limited on second request")
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.7:5000"
	if got := ExtractIP(req); got != "198.51.100.7" {
		t.Errorf("ExtractIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.50" {
		t.Errorf("ExtractIP with XFF = %q", got)
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	do := func(body string) int {
		req := httptest.NewRequest("POST", "/", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do("small"); code != 200 {
		t.Errorf("under-limit body rejected: %d", code)
	}
	if code := do(strings.Repeat("x", 64)); code != http.StatusRequestEntityTooLarge {
		t.Errorf("over-limit body = %d, want 413", code)
	}
}
