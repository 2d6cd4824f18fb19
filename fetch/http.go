package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures the HTTP client.
type Config struct {
	// Timeout bounds one request including redirects. Default: 30s.
	Timeout time.Duration
	// MaxBytes caps the response body read. Default: 10MB.
	MaxBytes int64
	// UserAgent sent with requests. Default: "sieve/1.0".
	UserAgent string
	// URLValidator validates the initial URL and every redirect hop.
	// Default: ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "sieve/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
}

// HTTPClient is the plain-HTTP Client: conditional GET, redirect guard,
// bounded reads, SHA-256 body dedup.
type HTTPClient struct {
	client *http.Client
	cfg    Config
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient with URL validation on redirects.
func NewHTTPClient(cfg Config) *HTTPClient {
	cfg.defaults()
	validate := cfg.URLValidator
	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("fetch: too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("fetch: redirect blocked: %w", err)
				}
				return nil
			},
		},
		cfg: cfg,
	}
}

// Fetch retrieves req.URL. Conditional headers are sent when the request
// carries them; a 304 returns Changed=false with no body. Statuses >= 400
// return the Result alongside ErrHTTPStatus for inspection.
func (f *HTTPClient) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := f.cfg.URLValidator(req.URL); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	hreq.Header.Set("User-Agent", f.cfg.UserAgent)
	if req.ETag != "" {
		hreq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		hreq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetch: http get: %w", err)
	}
	defer resp.Body.Close()

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			FinalURL:     finalURL,
			Status:       http.StatusNotModified,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Changed:      false,
		}, nil
	}

	if resp.StatusCode >= 400 {
		return &Result{FinalURL: finalURL, Status: resp.StatusCode},
			fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	return &Result{
		Body:         body,
		FinalURL:     finalURL,
		Status:       resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Hash:         hash,
		Changed:      req.PrevHash == "" || hash != req.PrevHash,
	}, nil
}
