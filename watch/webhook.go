package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookSink POSTs events as JSON. Retries are configurable with
// exponential backoff; the Manager passes zero because a missed delivery
// is recovered by the next change producing a new event.
type WebhookSink struct {
	client     *http.Client
	maxRetries int
	userAgent  string
	logger     *slog.Logger
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookRetries sets the number of retries after the first attempt.
// Default: 0.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *WebhookSink) { w.maxRetries = n }
}

// WithWebhookTimeout sets the per-request timeout. Default: 10s.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookSink) { w.client.Timeout = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *WebhookSink) { w.logger = l }
}

// NewWebhookSink creates a sink with a 10s timeout.
func NewWebhookSink(opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: "sieve/1.0",
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Send POSTs the event to url. Success is any 2xx status.
func (w *WebhookSink) Send(ctx context.Context, url string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("watch: marshal webhook body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("watch: webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", w.userAgent)

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("watch: webhook request failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("watch: webhook status %d", resp.StatusCode)
		w.logger.Warn("watch: webhook bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return lastErr
}
